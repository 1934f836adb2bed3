/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the ledger with realistic
  jewellery-counter data. Every write goes through the accounts service,
  so scenarios obey exactly the same rules as real traffic.

AVAILABLE SCENARIOS:
  vendor-gold:       Gold borrowed from a refinery, repaid in metal and cash
  neighbour-shop:    Mixed gold/silver/cash lending to a shop, bulk collection
  refinery-transfer: Shop stock sent straight to the refinery
  corrections:       Edited weight, reversed settlement, reversed obligation

HOW SCENARIOS WORK:
 1. Delete every account whose id starts with "demo-" (cascade)
 2. Create the scenario's accounts
 3. Record obligations and settlements through the service

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "vendor-gold"}

NOTE:
  Only demo accounts are removed. Real accounts are never touched.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/ledger"
)

const demoPrefix = "demo-"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "vendor-gold",
		Name:        "Refinery Vendor",
		Description: "10 g at 91.6 touch borrowed, part repaid in metal, rest in cash at the day's rate",
		Category:    "vendor",
	},
	{
		ID:          "neighbour-shop",
		Name:        "Neighbour Shop",
		Description: "Gold, silver and cash lent to a B2B shop, collected in bulk against the account",
		Category:    "shop",
	},
	{
		ID:          "refinery-transfer",
		Name:        "Refinery Transfer",
		Description: "Gold a shop owes us delivered straight to the refinery in one atomic transfer",
		Category:    "transfer",
	},
	{
		ID:          "corrections",
		Name:        "Corrections",
		Description: "Weighing corrected before payment, a wrong settlement reversed, a duplicate entry reversed",
		Category:    "audit",
	},
}

var loaders = map[string]func(ctx context.Context, svc *accounts.Service) error{
	"vendor-gold":       loadVendorGold,
	"neighbour-shop":    loadNeighbourShop,
	"refinery-transfer": loadRefineryTransfer,
	"corrections":       loadCorrections,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario replaces the demo accounts with the chosen scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, loadScenarioSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, r, err)
		return
	}

	accts, err := h.Service.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := []AccountDTO{}
	for _, a := range accts {
		if strings.HasPrefix(string(a.ID), demoPrefix) {
			dtos = append(dtos, toAccountDTO(a))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": req.ScenarioID,
		"accounts": dtos,
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	load, ok := loaders[id]
	if !ok {
		return &ledger.UnknownReferenceError{Kind: "scenario", ID: id}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := clearDemoAccounts(ctx, h.Service); err != nil {
		return fmt.Errorf("clear demo accounts: %w", err)
	}
	if err := load(ctx, h.Service); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.log.WithContext(ctx).Infow("scenario loaded", "scenario", id)
	return nil
}

func clearDemoAccounts(ctx context.Context, svc *accounts.Service) error {
	accts, err := svc.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, a := range accts {
		if !strings.HasPrefix(string(a.ID), demoPrefix) {
			continue
		}
		if err := svc.DeleteAccount(ctx, a.ID, true); err != nil && !ledger.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rate(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func loadVendorGold(ctx context.Context, svc *accounts.Service) error {
	vendor, err := svc.CreateAccount(ctx, accounts.CreateAccountRequest{
		ID:          "demo-balaji-refinery",
		Kind:        ledger.KindVendor,
		Name:        "Balaji Refinery",
		Restriction: ledger.RestrictGold,
	})
	if err != nil {
		return err
	}

	// 10 g at 91.6 touch = 9.160 g pure, plus making charge
	o, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
		AccountID: vendor.ID,
		Direction: ledger.Borrow,
		ObligationInput: accounts.ObligationInput{
			Description:  "22k bangles, 10 g",
			GrossWeight:  dec("10"),
			Percent:      dec("91.6"),
			MakingCharge: dec("850"),
			MetalType:    ledger.MetalGold,
		},
	})
	if err != nil {
		return err
	}

	if _, err := svc.Settle(ctx, accounts.SettleRequest{
		ObligationID: o.ID, Mode: ledger.ModeMetal, Gold: dec("5"), Note: "old gold returned",
	}); err != nil {
		return err
	}

	// 850 clears the making charge; 10,000 more buys 1.500 g at 6666.67/g
	_, err = svc.Settle(ctx, accounts.SettleRequest{
		ObligationID: o.ID,
		Mode:         ledger.ModeCash,
		Cash:         dec("10850"),
		Rate:         rate("6666.67"),
		Note:         "cash at today's rate",
	})
	return err
}

func loadNeighbourShop(ctx context.Context, svc *accounts.Service) error {
	shop, err := svc.CreateAccount(ctx, accounts.CreateAccountRequest{
		ID:              "demo-sri-lakshmi",
		Kind:            ledger.KindShop,
		Name:            "Sri Lakshmi Jewellers",
		DefaultCalcMode: ledger.CalcAdditive,
	})
	if err != nil {
		return err
	}

	lends := []accounts.ObligationInput{
		{Description: "gold chain stock", GrossWeight: dec("20"), Percent: dec("2"), MetalType: ledger.MetalGold},
		{Description: "silver anklets", GrossWeight: dec("250"), Percent: dec("5"), MetalType: ledger.MetalSilver},
		{Description: "cash advance", ManualCash: dec("15000")},
	}
	for _, in := range lends {
		if _, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
			AccountID: shop.ID, Direction: ledger.Lend, ObligationInput: in,
		}); err != nil {
			return err
		}
	}

	// We also borrowed a little silver from them.
	if _, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
		AccountID: shop.ID,
		Direction: ledger.Borrow,
		ObligationInput: accounts.ObligationInput{
			Description: "silver for repair job",
			GrossWeight: dec("40"),
			MetalType:   ledger.MetalSilver,
		},
	}); err != nil {
		return err
	}

	// Bulk collection against the account rather than a single item.
	_, err = svc.Settle(ctx, accounts.SettleRequest{
		AccountID: shop.ID,
		Direction: ledger.Lend,
		Mode:      ledger.ModeBoth,
		Gold:      dec("10"),
		Cash:      dec("15000"),
		Note:      "monthly collection",
	})
	return err
}

func loadRefineryTransfer(ctx context.Context, svc *accounts.Service) error {
	shop, err := svc.CreateAccount(ctx, accounts.CreateAccountRequest{
		ID: "demo-ganesh-gold", Kind: ledger.KindShop, Name: "Ganesh Gold House",
	})
	if err != nil {
		return err
	}
	refinery, err := svc.CreateAccount(ctx, accounts.CreateAccountRequest{
		ID: "demo-kaveri-refinery", Kind: ledger.KindVendor, Name: "Kaveri Refinery", Restriction: ledger.RestrictGold,
	})
	if err != nil {
		return err
	}

	owed, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
		AccountID: shop.ID,
		Direction: ledger.Lend,
		ObligationInput: accounts.ObligationInput{
			Description: "fine gold lent",
			GrossWeight: dec("25"),
			Percent:     dec("99.5"),
			MetalType:   ledger.MetalGold,
		},
	})
	if err != nil {
		return err
	}

	_, err = svc.Transfer(ctx, accounts.TransferRequest{
		From: accounts.SettleRequest{
			ObligationID: owed.ID, Mode: ledger.ModeMetal, Gold: dec("10"), Note: "delivered to Kaveri Refinery",
		},
		To: accounts.AddObligationRequest{
			AccountID: refinery.ID,
			Direction: ledger.Lend,
			ObligationInput: accounts.ObligationInput{
				Description: "use-stock from Ganesh Gold House",
				GrossWeight: dec("10"),
				Percent:     dec("100"),
				MetalType:   ledger.MetalGold,
			},
		},
	})
	return err
}

func loadCorrections(ctx context.Context, svc *accounts.Service) error {
	vendor, err := svc.CreateAccount(ctx, accounts.CreateAccountRequest{
		ID: "demo-murugan-silver", Kind: ledger.KindVendor, Name: "Murugan Silver Works", Restriction: ledger.RestrictSilver,
	})
	if err != nil {
		return err
	}

	silver := func(desc, gross string) accounts.ObligationInput {
		return accounts.ObligationInput{
			Description: desc, GrossWeight: dec(gross), Percent: dec("92.5"), MetalType: ledger.MetalSilver,
		}
	}

	o, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
		AccountID: vendor.ID, Direction: ledger.Borrow, ObligationInput: silver("silver plates", "500"),
	})
	if err != nil {
		return err
	}
	if _, err := svc.EditObligation(ctx, accounts.EditObligationRequest{
		ID: o.ID, Version: o.Version, ObligationInput: silver("silver plates", "520"), Note: "reweighed at counter",
	}); err != nil {
		return err
	}

	wrong, err := svc.Settle(ctx, accounts.SettleRequest{
		ObligationID: o.ID, Mode: ledger.ModeMetal, Silver: dec("100"), Note: "entered against wrong bill",
	})
	if err != nil {
		return err
	}
	if _, err := svc.ReverseSettlement(ctx, accounts.ReverseSettlementRequest{
		ID: wrong.Settlement.ID, Note: "wrong bill",
	}); err != nil {
		return err
	}
	if _, err := svc.Settle(ctx, accounts.SettleRequest{
		ObligationID: o.ID, Mode: ledger.ModeMetal, Silver: dec("100"), Note: "silver returned",
	}); err != nil {
		return err
	}

	dup, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
		AccountID: vendor.ID, Direction: ledger.Borrow, ObligationInput: silver("silver plates", "500"),
	})
	if err != nil {
		return err
	}
	_, err = svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: dup.ID, Note: "entered twice"})
	return err
}
