package custody

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"market-escrow-go/internal/common"
	"market-escrow-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Service wraps the custody provider's API. It resolves one hot wallet per
// supported currency and exposes its incoming transactions as chain events
// the deposit engine can attribute.
type Service struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService

	portfolioId string
	currencies  common.CurrencySet
	walletIds   map[string]string // currency symbol -> wallet id
}

func NewService(creds *credentials.Credentials, currencies common.CurrencySet) (*Service, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		currencies:      currencies,
		walletIds:       make(map[string]string),
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// Init finds the default portfolio and resolves the hot wallet for every
// supported currency. Must be called before ListIncoming.
func (s *Service) Init(ctx context.Context) error {
	portfolioId, err := s.findDefaultPortfolio(ctx)
	if err != nil {
		return err
	}
	s.portfolioId = portfolioId

	for _, symbol := range s.currencies.Symbols() {
		request := &wallets.ListWalletsRequest{
			PortfolioId: portfolioId,
			Type:        "VAULT",
			Symbols:     []string{symbol},
		}
		response, err := s.walletsSvc.ListWallets(ctx, request)
		if err != nil {
			return fmt.Errorf("unable to list wallets for %s: %w", symbol, err)
		}
		if len(response.Wallets) == 0 {
			zap.L().Warn("No custody wallet found for currency", zap.String("symbol", symbol))
			continue
		}
		s.walletIds[symbol] = response.Wallets[0].Id
		zap.L().Info("Resolved custody wallet",
			zap.String("symbol", symbol),
			zap.String("wallet_id", response.Wallets[0].Id))
	}

	if len(s.walletIds) == 0 {
		return fmt.Errorf("no custody wallets resolved for any configured currency")
	}
	return nil
}

func (s *Service) findDefaultPortfolio(ctx context.Context) (string, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}

	for _, p := range response.Portfolios {
		if p.Name == "Default Portfolio" {
			return p.Id, nil
		}
	}
	return "", fmt.Errorf("default portfolio not found")
}

// ListIncoming returns completed incoming transactions for one currency's
// hot wallet since the given time, as chain events addressed to the
// currency's shared deposit address.
func (s *Service) ListIncoming(ctx context.Context, currency string, since time.Time) ([]models.ChainEvent, error) {
	cfg, ok := s.currencies.Get(currency)
	if !ok {
		return nil, fmt.Errorf("unsupported currency %s", currency)
	}
	walletId, ok := s.walletIds[currency]
	if !ok {
		return nil, fmt.Errorf("no custody wallet resolved for %s", currency)
	}

	request := &transactions.ListWalletTransactionsRequest{
		PortfolioId: s.portfolioId,
		WalletId:    walletId,
		Start:       since,
		Types:       []string{"DEPOSIT"},
		Pagination: &model.PaginationParams{
			Limit: 500,
		},
	}

	response, err := s.transactionsSvc.ListWalletTransactions(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}

	var events []models.ChainEvent
	for _, tx := range response.Transactions {
		if tx.Status != "TRANSACTION_DONE" {
			continue
		}

		amount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			zap.L().Warn("Skipping transaction with unparseable amount",
				zap.String("transaction_id", tx.Id),
				zap.String("amount", tx.Amount))
			continue
		}

		events = append(events, models.ChainEvent{
			Address:       cfg.SharedAddress,
			Currency:      currency,
			AmountAtomic:  amount.Shift(cfg.Decimals).IntPart(),
			TxHash:        tx.Id,
			Confirmations: cfg.MinConfirmations,
		})
	}

	zap.L().Debug("Fetched incoming transactions",
		zap.String("currency", currency),
		zap.Int("events", len(events)))

	return events, nil
}
