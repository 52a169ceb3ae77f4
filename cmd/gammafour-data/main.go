// Command gammafour-data wires up a tiny parent/child table pair on top
// of the indexing engine and runs it through a couple of transactions, the
// way the teacher's cmd/relational-db/main.go exercised its storage
// engine at startup before accepting connections.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gammafour-data/internal/config"
	"gammafour-data/internal/row"
	"gammafour-data/pkg/engine"
)

// demoRow is a minimal row.Row implementation used only by this demo.
// Generated table/row code supplies the real implementation; the engine
// never constructs rows itself.
type demoRow struct {
	current  map[string]interface{}
	previous map[string]interface{}
	original map[string]interface{}
}

func newDemoRow(fields map[string]interface{}) *demoRow {
	copy := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		copy[k] = v
	}
	return &demoRow{current: fields, previous: copy, original: copy}
}

func (r *demoRow) Field(name string) (interface{}, bool) {
	v, ok := r.current[name]
	return v, ok
}

func (r *demoRow) Version(which row.Version) row.Row {
	switch which {
	case row.Original:
		return &demoRow{current: r.original}
	case row.Previous:
		return &demoRow{current: r.previous}
	default:
		return r
	}
}

// setCustomerID simulates a generated setter changing the indexed column:
// it snapshots the pre-change value into previous before mutating current.
func (r *demoRow) setCustomerID(id int) {
	r.previous = map[string]interface{}{"CustomerID": r.current["CustomerID"]}
	r.current = map[string]interface{}{"CustomerID": id}
}

func customerKey(r row.Row) int {
	v, _ := r.Field("CustomerID")
	id, _ := v.(int)
	return id
}

func orderKey(r row.Row) int {
	v, _ := r.Field("CustomerID")
	id, _ := v.(int)
	return id
}

func main() {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := cfg.Logger()
	logger.Info().Msg(cfg.String())

	customers := engine.NewUniqueIndex[int]("Customers.PK", logger).HasIndex(customerKey)
	orders := engine.NewForeignIndex[int]("Orders.CustomerID", customers, logger).HasIndex(orderKey)

	alice := newDemoRow(map[string]interface{}{"CustomerID": 7})
	firstOrder := newDemoRow(map[string]interface{}{"CustomerID": 7})

	// Transaction 1: insert a customer and one of their orders, then
	// commit. Both mutations land permanently.
	scope := engine.NewScope(cfg.Transaction.DefaultTimeoutMs, logger)
	if err := scope.WaitWriter(customers); err != nil {
		log.Fatalf("acquire writer lock on customers: %v", err)
	}
	if err := scope.WaitWriter(orders); err != nil {
		log.Fatalf("acquire writer lock on orders: %v", err)
	}
	if err := customers.Add(alice); err != nil {
		log.Fatalf("add customer: %v", err)
	}
	if err := orders.Add(firstOrder); err != nil {
		log.Fatalf("add order: %v", err)
	}
	scope.Complete()
	if err := scope.Dispose(); err != nil {
		log.Fatalf("commit transaction 1: %v", err)
	}
	logger.Info().Msg("transaction 1 committed: customer 7 and its first order are indexed")

	// Transaction 2: try to delete the customer while an order still
	// references them. ForeignIndex rejects it with ConstraintViolation,
	// and disposing without Complete rolls the attempted delete back.
	scope2 := engine.NewScope(cfg.Transaction.DefaultTimeoutMs, logger)
	if err := scope2.WaitWriter(customers); err != nil {
		log.Fatalf("acquire writer lock on customers: %v", err)
	}
	if err := scope2.WaitReader(orders); err != nil {
		log.Fatalf("acquire reader lock on orders: %v", err)
	}

	err := customers.Remove(alice)
	var violation *engine.ConstraintViolationError
	if errors.As(err, &violation) {
		logger.Info().Err(err).Msg("transaction 2 rejected as expected: customer 7 still has dependent orders")
	} else if err != nil {
		log.Fatalf("unexpected error removing customer: %v", err)
	} else {
		log.Fatalf("expected a constraint violation but the delete succeeded")
	}
	// scope2.Complete() is deliberately never called: Dispose rolls back.
	if err := scope2.Dispose(); err != nil {
		logger.Debug().Err(err).Msg("rollback of transaction 2 reported (expected)")
	}

	if !customers.Contains(7) {
		log.Fatalf("rollback regression: customer 7 should still be present")
	}
	children, err := orders.GetChildren(alice)
	if err != nil || len(children) != 1 {
		log.Fatalf("rollback regression: customer 7 should still have exactly one order, got %d (err=%v)", len(children), err)
	}

	// Transaction 3: insert a second customer, then attempt to renumber
	// them and abort. The key-changing Update is rolled back, so the
	// customer is found under their original key afterward.
	bob := newDemoRow(map[string]interface{}{"CustomerID": 42})
	scope3 := engine.NewScope(cfg.Transaction.DefaultTimeoutMs, logger)
	if err := scope3.WaitWriter(customers); err != nil {
		log.Fatalf("acquire writer lock on customers: %v", err)
	}
	if err := customers.Add(bob); err != nil {
		log.Fatalf("add customer 42: %v", err)
	}
	scope3.Complete()
	if err := scope3.Dispose(); err != nil {
		log.Fatalf("commit transaction 3: %v", err)
	}

	scope4 := engine.NewScope(cfg.Transaction.DefaultTimeoutMs, logger)
	if err := scope4.WaitWriter(customers); err != nil {
		log.Fatalf("acquire writer lock on customers: %v", err)
	}
	bob.setCustomerID(43)
	if err := customers.Update(bob); err != nil {
		log.Fatalf("update customer 42 -> 43: %v", err)
	}
	// scope4.Complete() is deliberately never called.
	if err := scope4.Dispose(); err != nil {
		logger.Debug().Err(err).Msg("rollback of transaction 4 reported (expected)")
	}

	if !customers.Contains(42) || customers.Contains(43) {
		log.Fatalf("rollback regression: customer should still be at key 42, not 43")
	}

	fmt.Println("engine demo complete: referential integrity held across commit and rollback")

	// The demo transactions above are the entire workload this process
	// drives on its own; in place of a SQL server accepting connections,
	// it now just sits ready until told to stop.
	fmt.Println("gammafour-data ready, waiting for shutdown signal")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received, stopping")
}
