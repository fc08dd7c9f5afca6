// Package api serves the JSON control and status API of a gridfetch
// daemon.
//
// # Endpoints
//
//	GET    /status
//	GET    /datasets
//	POST   /datasets                                {"instance_id": "...", "files": [...], "start": true}
//	GET    /datasets/{id}
//	DELETE /datasets/{id}?delete_files=true
//	POST   /datasets/{id}/start
//	POST   /datasets/{id}/pause
//	PUT    /datasets/{id}/selection                 {"files": [...]}
//	PUT    /datasets/{id}/priority                  {"priority": 10}
//	POST   /datasets/{id}/files/{file}/start|pause|reset|skip|retry
//	PUT    /datasets/{id}/files/{file}/replica      {"data_node": "..."}
//	GET    /searches
//	POST   /searches                                {"query": "...", "datasets": [...]}
//	GET    /searches/{id}
//	POST   /searches/{id}/pause|resume|apply
//	PUT    /searches/{id}/datasets/{dataset}/selection  {"files": [...]}
//
// Dataset responses use the snapshot form of the download package. Errors
// are returned as {"error": "..."} with a status derived from the error
// kind: invalid arguments map to 400, unknown entities to 404, illegal
// state transitions to 409 and catalog failures to 502.
package api
