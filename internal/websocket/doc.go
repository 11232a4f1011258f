/*
Package websocket streams pipeline status to browser clients.

The Hub keeps the set of connected clients and fans every broadcast out to
them. It implements operations.WebSocketHub, so the controller's
StatusBroadcaster forwards each progress snapshot straight to the hub. A
newly connected client first receives a connection message and then the
most recent broadcast, so it never has to wait for the next state change to
render the pipeline.

Messages are JSON objects:

	{
	  "type": "pipeline:snapshot",
	  "step": "<run id>",
	  "status": "running",
	  "data": { ...progress snapshot... },
	  "timestamp": "2024-05-06T07:08:09Z",
	  "trace_id": "..."
	}

Clients that fall behind (full send buffer) are disconnected rather than
slowing the broadcast down.
*/
package websocket
