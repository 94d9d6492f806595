// Package schema defines the record types persisted by the local document store.
//
// # Overview
//
// Every tenant store holds five collections. Each collection has a Definition
// in the registry describing its Go type, id prefix, indexed fields and write
// rules:
//
//	inventory      InventoryItem       tracked, indexed by category/sku/isSynced/lastUpdated
//	transactions   Transaction         tracked, immutable, indexed by timestamp/isSynced/userId/paymentMethod
//	sales_summary  DailySalesSummary   tracked, unique by date, indexed by date/isSynced/userId
//	users          UserRecord          indexed by email/tenantId
//	sync_logs      SyncLogEntry        append-only, indexed by timestamp/type/status
//
// "Tracked" collections carry the isSynced dirty flag. Any local write resets
// it to false; only the synchronization bookkeeping step sets it to true.
//
// # Validation
//
// Validate runs the struct tags through go-playground/validator and then the
// record's own cross-field checks (transaction totals, summary averages and
// rankings, sync log error messages). Failures are reported as a
// *ValidationError listing every offending field.
//
//	txn := schema.NewTransaction("TXN-0001", []schema.LineItem{
//	    {Name: "Paracetamol 500mg", Quantity: 2, UnitPrice: decimal.RequireFromString("2.50")},
//	    {Name: "Amoxicillin 250mg", Quantity: 1, UnitPrice: decimal.RequireFromString("8.75")},
//	}, decimal.Zero, decimal.Zero)
//	// txn.Total == 13.75
//	err := schema.Validate(schema.CollectionTransactions, txn)
//
// # Wire format
//
// JSON field names are camelCase because documents are submitted to the
// remote service as stored. Money values are decimal.Decimal and encode as
// JSON numbers.
package schema
