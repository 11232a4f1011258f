package prompt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"insightpipe/internal/backend"
	"insightpipe/internal/dataset"
)

// Role is the semantic tag of a column.
type Role string

const (
	RoleMonetary             Role = "numeric-monetary"
	RoleQuantity             Role = "numeric-quantity"
	RoleNumericUnclassified  Role = "numeric-unclassified"
	RoleEntity               Role = "categorical-entity"
	RoleProduct              Role = "categorical-product"
	RoleLocation             Role = "categorical-location"
	RoleCategoryUnclassified Role = "categorical-unclassified"
	RoleTemporal             Role = "temporal"
)

var knownRoles = map[Role]bool{
	RoleMonetary: true, RoleQuantity: true, RoleNumericUnclassified: true,
	RoleEntity: true, RoleProduct: true, RoleLocation: true,
	RoleCategoryUnclassified: true, RoleTemporal: true,
}

// nameRules are checked in order; the first rule with a keyword contained
// in the lowercased column name wins.
var nameRules = []struct {
	role     Role
	keywords []string
}{
	{RoleMonetary, []string{"precio", "monto", "total", "importe", "price", "amount", "revenue", "cost"}},
	{RoleQuantity, []string{"cantidad", "stock", "unidades", "quantity", "qty", "units"}},
	{RoleEntity, []string{"cliente", "usuario", "nombre", "customer", "client", "user", "name"}},
	{RoleProduct, []string{"producto", "item", "servicio", "product", "service", "sku"}},
	{RoleLocation, []string{"pais", "ciudad", "region", "country", "city"}},
	{RoleTemporal, []string{"fecha", "time", "date"}},
}

// ColumnRole pairs a column with its inferred role.
type ColumnRole struct {
	Column string `json:"column"`
	Role   Role   `json:"role"`
}

// ParseRole accepts a role tag in any case with '-', '_' or ' ' separators.
func ParseRole(s string) (Role, bool) {
	norm := strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(strings.TrimSpace(s)))
	r := Role(norm)
	return r, knownRoles[r]
}

// RoleFor infers a column's role from its name, then its kind.
func RoleFor(col dataset.Column) Role {
	name := strings.ToLower(col.Name)
	for _, rule := range nameRules {
		for _, k := range rule.keywords {
			if strings.Contains(name, k) {
				return rule.role
			}
		}
	}
	switch col.Kind() {
	case dataset.KindNumber:
		return RoleNumericUnclassified
	case dataset.KindTime:
		return RoleTemporal
	default:
		return RoleCategoryUnclassified
	}
}

// InferRoles applies RoleFor to every column, in dataset order.
func InferRoles(ds *dataset.Dataset) []ColumnRole {
	roles := make([]ColumnRole, 0, ds.NumCols())
	for _, col := range ds.Columns() {
		roles = append(roles, ColumnRole{Column: col.Name, Role: RoleFor(col)})
	}
	return roles
}

// Generator produces text for a prompt. backend.Backend satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts backend.GenerateOptions) (string, error)
}

// InferRolesWithModel asks gen to classify the columns and falls back to
// RoleFor for any column the reply leaves out or tags with an unknown role.
// A backend failure or unparseable reply falls back for every column.
func InferRolesWithModel(ctx context.Context, ds *dataset.Dataset, gen Generator, opts backend.GenerateOptions, sampleSize int, logger *slog.Logger) []ColumnRole {
	if logger == nil {
		logger = slog.Default()
	}
	heuristic := InferRoles(ds)

	p, err := BuildColumnPrompt(ds, sampleSize)
	if err != nil {
		logger.WarnContext(ctx, "column_prompt_failed", slog.String("error", err.Error()))
		return heuristic
	}
	reply, err := gen.Generate(ctx, p, opts)
	if err != nil {
		logger.WarnContext(ctx, "role_inference_fallback",
			slog.String("reason", "backend_error"),
			slog.String("error", err.Error()))
		return heuristic
	}
	suggested, ok := parseRoleReply(reply)
	if !ok {
		logger.WarnContext(ctx, "role_inference_fallback", slog.String("reason", "invalid_json"))
		return heuristic
	}

	fallbacks := 0
	out := make([]ColumnRole, len(heuristic))
	for i, h := range heuristic {
		out[i] = h
		if role, ok := ParseRole(suggested[h.Column]); ok {
			out[i].Role = role
		} else {
			fallbacks++
		}
	}
	logger.InfoContext(ctx, "roles_inferred",
		slog.Int("columns", len(out)),
		slog.Int("heuristic_fallbacks", fallbacks))
	return out
}

// parseRoleReply extracts the outermost JSON object from a model reply.
func parseRoleReply(reply string) (map[string]string, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, false
	}
	var roles map[string]string
	if err := json.Unmarshal([]byte(reply[start:end+1]), &roles); err != nil {
		return nil, false
	}
	return roles, true
}
