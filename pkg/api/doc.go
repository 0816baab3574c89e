// Package api exposes invoice generation over HTTP.
//
// # Overview
//
// The API is built on gorilla/mux. Authentication and role checks happen
// upstream; handlers assume the caller may act on any client.
//
// # Endpoints
//
//	POST /clients/{clientId}/invoices          generate or regenerate the period's invoice
//	GET  /clients/{clientId}/invoices          a client's invoices, newest period first
//	GET  /invoices?month=&year=                every invoice of a billing period
//	POST /invoices/generate                    generate the period's invoice for every billable client
//	GET  /invoices/{id}                        one invoice
//	PUT  /invoices/{id}/status                 change the payment status
//	GET  /invoices/{id}/document?disposition=  the rendered PDF, inline or as an attachment
//
// # Errors
//
// Ledger errors map to status codes. Validation failures are 400. Unknown
// invoices, clients and plans are 404. Blob store failures are 502 and expired
// request deadlines are 504. Anything else, storage consistency failures
// included, is 500. Error bodies are {"error": "..."}.
//
// # Usage
//
//	handlers := api.NewInvoiceHandlers(l, catalog.NewSQLSource(conn, dialect), logger)
//	server := api.NewServer(handlers, logger, metrics, api.ServerOptions{RequestTimeout: 30 * time.Second})
//	http.ListenAndServe(":8080", server)
package api
