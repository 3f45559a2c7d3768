// Package testdb provides test database utilities for the write pipeline.
//
// The testdb package manages isolated PostgreSQL schemas with automatic
// setup and cleanup, so store tests run against real constraints and
// transactions instead of a mock.
//
// # Test Database Setup
//
// Create a test database for each test:
//
//	func TestSomething(t *testing.T) {
//	    tdb := testdb.New(t)
//	    defer tdb.Close()
//
//	    // tdb.Store is a *store.Store scoped to an isolated schema
//	}
//
// # Isolation
//
// Each test gets an isolated schema:
//
//	func TestA(t *testing.T) {
//	    tdb := testdb.New(t) // schema: test_171234_1
//	}
//
//	func TestB(t *testing.T) {
//	    tdb := testdb.New(t) // schema: test_171234_2
//	}
//
// # Timeout Context
//
// Test databases include timeout contexts:
//
//	ctx := tdb.Ctx() // 10 second timeout
package testdb
