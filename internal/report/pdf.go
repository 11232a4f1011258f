package report

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
)

var pdfTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"fileURL": func(p string) template.URL {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		return template.URL((&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String())
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 32px; color: #222; }
h1 { text-align: center; }
table { border-collapse: collapse; margin: 12px 0; }
th, td { border: 1px solid #000; padding: 4px 10px; text-align: center; }
th { background: #808080; color: #f5f5f5; }
.section { margin: 16px 0; white-space: pre-wrap; }
img { width: 400px; height: 250px; display: block; margin: 10px 0; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Metadata}}<p><b>{{.Key}}:</b> {{.Value}}</p>
{{end}}
{{range .Sections}}<h2>{{.Title}}</h2>
<div class="section">{{.Body}}</div>
{{end}}
{{if .Metrics}}<table>
<tr><th>Metric</th><th>Value</th></tr>
{{range .Metrics}}<tr><td>{{.Key}}</td><td>{{printf "%.4f" .Value}}</td></tr>
{{end}}</table>{{end}}
{{range .Charts}}<img src="{{fileURL .}}">
{{end}}
</body>
</html>
`))

type kv[V any] struct {
	Key   string
	Value V
}

type pdfView struct {
	Title    string
	Metadata []kv[string]
	Sections []Section
	Metrics  []kv[float64]
	Charts   []string
}

// RenderHTML renders the document as the HTML page printed to PDF.
func RenderHTML(doc Document) ([]byte, error) {
	view := pdfView{Title: doc.Title, Sections: doc.Sections, Charts: doc.Charts}
	for _, k := range sortedKeys(doc.Metadata) {
		view.Metadata = append(view.Metadata, kv[string]{k, doc.Metadata[k]})
	}
	for _, k := range sortedKeys(doc.Metrics) {
		view.Metrics = append(view.Metrics, kv[float64]{k, doc.Metrics[k]})
	}
	var buf bytes.Buffer
	if err := pdfTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PDFExporter prints the rendered HTML to A4 PDF with headless Chrome.
type PDFExporter struct {
	execPath string
}

// NewPDFExporter uses the Chrome binary at execPath, or looks one up when empty.
func NewPDFExporter(execPath string) *PDFExporter {
	return &PDFExporter{execPath: execPath}
}

func (e *PDFExporter) Extension() string { return ".pdf" }

func (e *PDFExporter) Export(ctx context.Context, doc Document, path string) error {
	html, err := RenderHTML(doc)
	if err != nil {
		return apperrors.NewStorageError("failed to render report html", err)
	}

	tmp, err := os.CreateTemp("", "insight-report-*.html")
	if err != nil {
		return apperrors.NewStorageError("failed to stage report html", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(html); err != nil {
		tmp.Close()
		return apperrors.NewStorageError("failed to stage report html", err)
	}
	tmp.Close()

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if e.execPath != "" {
		opts = append(opts, chromedp.ExecPath(e.execPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	pageURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(tmp.Name())}).String()
	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				Do(ctx)
			pdf = data
			return err
		}))
	if err != nil {
		return apperrors.NewStorageError("failed to print report pdf", err)
	}

	err = files.WriteAtomic(path, 0644, func(w io.Writer) error {
		_, err := w.Write(pdf)
		return err
	})
	if err != nil {
		return apperrors.NewStorageError("failed to write pdf report", err).WithContext("path", path)
	}
	return nil
}
