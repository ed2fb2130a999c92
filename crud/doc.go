// Package crud maps manager types onto database tables by naming convention
// ("BookManager" manages table "book") and gives every manager the same
// get-by-id, get-all, add, update and remove operations, reachable either
// directly or through table-named aliases such as "addBook" or
// "getAllBooks" resolved by Manager.Call.
package crud
