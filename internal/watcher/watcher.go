/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"market-escrow-go/internal/common"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"go.uber.org/zap"
)

// Source provides incoming-payment observations for one currency's shared
// address. The custody service implements it in production; tests feed a
// fake.
type Source interface {
	ListIncoming(ctx context.Context, currency string, since time.Time) ([]models.ChainEvent, error)
}

// Handler consumes attributed chain events. The fingerprint engine
// implements it.
type Handler interface {
	HandleEvent(ctx context.Context, event models.ChainEvent) error
	ExpireSweep(ctx context.Context) (int, error)
}

// Config contains configuration for the deposit watcher.
type Config struct {
	Source     Source
	Handler    Handler
	Currencies common.CurrencySet

	LookbackWindow  time.Duration
	PollingInterval time.Duration
	CleanupInterval time.Duration
	SweepInterval   time.Duration
}

// Watcher polls the chain source for new incoming payments and feeds them to
// the deposit handler. Delivery to the handler is at-least-once: the
// in-memory processed set only saves API calls, the ledger's idempotency is
// the real guard.
type Watcher struct {
	source     Source
	handler    Handler
	currencies common.CurrencySet

	processedTxIds  map[string]time.Time
	mutex           sync.RWMutex
	lookbackWindow  time.Duration
	pollingInterval time.Duration
	cleanupInterval time.Duration
	sweepInterval   time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func New(cfg Config) *Watcher {
	return &Watcher{
		source:          cfg.Source,
		handler:         cfg.Handler,
		currencies:      cfg.Currencies,
		processedTxIds:  make(map[string]time.Time),
		lookbackWindow:  cfg.LookbackWindow,
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		sweepInterval:   cfg.SweepInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins polling. The first poll runs immediately so a restart picks
// up anything that landed while the watcher was down.
func (w *Watcher) Start(ctx context.Context) error {
	zap.L().Info("Starting deposit watcher",
		zap.Strings("currencies", w.currencies.Symbols()),
		zap.Duration("polling_interval", w.pollingInterval),
		zap.Duration("lookback_window", w.lookbackWindow))

	go w.pollLoop(ctx)
	go w.cleanupLoop(ctx)
	go w.sweepLoop(ctx)

	return nil
}

// Stop gracefully stops the watcher.
func (w *Watcher) Stop() {
	zap.L().Info("Stopping deposit watcher")
	close(w.stopChan)
	<-w.doneChan
	zap.L().Info("Deposit watcher stopped")
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollingInterval)
	defer ticker.Stop()

	w.pollAll(ctx)

	for {
		select {
		case <-ticker.C:
			w.pollAll(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollAll polls every configured currency concurrently.
func (w *Watcher) pollAll(ctx context.Context) {
	since := time.Now().UTC().Add(-w.lookbackWindow)

	var wg sync.WaitGroup
	for _, symbol := range w.currencies.Symbols() {
		wg.Add(1)
		go func(currency string) {
			defer wg.Done()
			if err := w.pollCurrency(ctx, currency, since); err != nil {
				zap.L().Error("Failed to poll currency",
					zap.String("currency", currency),
					zap.Error(err))
			}
		}(symbol)
	}
	wg.Wait()
}

func (w *Watcher) pollCurrency(ctx context.Context, currency string, since time.Time) error {
	events, err := w.source.ListIncoming(ctx, currency, since)
	if err != nil {
		return err
	}

	for _, event := range events {
		if w.isTransactionProcessed(event.TxHash) {
			continue
		}

		err := w.handler.HandleEvent(ctx, event)
		switch {
		case err == nil:
			w.markTransactionProcessed(event.TxHash)
		case errors.Is(err, store.ErrUnmatchedDeposit):
			// Parked for review; don't retry every poll.
			w.markTransactionProcessed(event.TxHash)
			zap.L().Warn("Deposit event sent to manual review",
				zap.String("currency", currency),
				zap.String("tx_hash", event.TxHash))
		default:
			zap.L().Error("Failed to handle chain event",
				zap.String("currency", currency),
				zap.String("tx_hash", event.TxHash),
				zap.Error(err))
		}
	}

	return nil
}

func (w *Watcher) isTransactionProcessed(txHash string) bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	_, exists := w.processedTxIds[txHash]
	return exists
}

func (w *Watcher) markTransactionProcessed(txHash string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.processedTxIds[txHash] = time.Now()
}

// cleanupLoop periodically drops processed tx ids older than the lookback
// window; anything that old can no longer reappear in a poll.
func (w *Watcher) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.cleanupProcessedTransactions()
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) cleanupProcessedTransactions() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	cutoff := time.Now().UTC().Add(-w.lookbackWindow)
	cleaned := 0

	for txHash, processedTime := range w.processedTxIds {
		if processedTime.Before(cutoff) {
			delete(w.processedTxIds, txHash)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up old processed transactions",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(w.processedTxIds)))
	}
}

// sweepLoop periodically expires overdue deposit requests.
func (w *Watcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.handler.ExpireSweep(ctx); err != nil {
				zap.L().Error("Deposit expiry sweep failed", zap.Error(err))
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
