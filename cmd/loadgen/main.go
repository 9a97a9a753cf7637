package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/adapter/storage"
	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/core/service"
)

const (
	warehouseID   = "wh-load"
	productID     = "hot-item"
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryAdapter()
	ledger := service.NewLedgerService(store, nil, zap.NewNop(), queueSize)
	defer ledger.Close()

	// Drain the dispatch queue in background
	go func() {
		for range ledger.Dispatch() {
		}
	}()

	key := domain.InventoryKey{WarehouseID: warehouseID, ProductID: productID}
	if _, err := ledger.Submit(ctx, domain.ChangeRequest{
		Key:           key,
		Type:          domain.ChangeReceived,
		QuantityDelta: initialStock,
		Reference:     "loadgen-seed",
	}); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent sales
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := ledger.Submit(ctx, domain.ChangeRequest{
				Key:           key,
				Type:          domain.ChangeSold,
				QuantityDelta: -1,
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== LOAD GENERATOR RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Admitted:         %d\n", success)
	fmt.Printf("Rejected:         %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("============================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d sales admitted, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d admitted/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify the projected quantity drained to zero
	finalQty, err := ledger.Quantity(ctx, key)
	if err != nil {
		log.Fatalf("failed to read quantity: %v", err)
	}
	fmt.Printf("Final Quantity:   %d\n", finalQty)

	if finalQty == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected quantity 0, got %d\n", finalQty)
	}

	// Replaying the full ledger must land on the live projection
	if _, err := ledger.Audit(ctx, key); err != nil {
		fmt.Printf("FAIL: Replay diverged from live projection: %v\n", err)
	} else {
		fmt.Println("PASS: Replay matches live projection")
	}
}
