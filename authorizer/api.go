package authorizer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/internal/cardgen"
	"github.com/alovak/atmswitch-playground/internal/expiry"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// API is the HTTP administration surface of an authorizer: account opening,
// card issuance, PIN assignment and the withdrawal limit. The transaction
// path does not go through here; it is reached only via the switch.
type API struct {
	authorizer *Service
}

func NewAPI(authorizer *Service) *API {
	return &API{
		authorizer: authorizer,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", a.createAccount)
		r.Route("/{accountNumber}", func(r chi.Router) {
			r.Get("/", a.getAccount)
			r.Post("/cards", a.createCard)
			r.Get("/transactions", a.getTransactions)
		})
	})
	r.Post("/cards/{cardNumber}/pin", a.assignPin)
	r.Put("/limits/withdrawal", a.setWithdrawalLimit)
}

type createAccountRequest struct {
	Type           models.AccountType `json:"type"`
	Balance        decimal.Decimal    `json:"balance"`
	OverdraftLimit decimal.Decimal    `json:"overdraft_limit"`
}

type accountResponse struct {
	AccountNumber  string             `json:"account_number"`
	Type           models.AccountType `json:"type"`
	Balance        decimal.Decimal    `json:"balance"`
	OverdraftLimit *decimal.Decimal   `json:"overdraft_limit,omitempty"`
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	create := createAccountRequest{}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	number, err := a.authorizer.CreateAccount(create.Type, create.Balance, create.OverdraftLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	account, err := a.authorizer.GetAccount(number)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toAccountResponse(account))
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")

	account, err := a.authorizer.GetAccount(accountNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(toAccountResponse(account))
}

type createCardRequest struct {
	BIN string `json:"bin"`
}

type cardResponse struct {
	CardNumber     string `json:"card_number"`
	MaskedNumber   string `json:"masked_number"`
	ExpirationDate string `json:"expiration_date"`
	CardFace       string `json:"card_face"`
}

func (a *API) createCard(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")

	create := createCardRequest{}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pan, err := a.authorizer.CreateCard(create.BIN, accountNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	card, err := a.authorizer.repo.GetCard(pan)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cardResponse{
		CardNumber:     card.Number,
		MaskedNumber:   cardgen.MaskPAN(card.Number),
		ExpirationDate: card.ExpirationDate,
		CardFace:       expiry.CardFace(card.ExpirationDate),
	})
}

type assignPinRequest struct {
	Pin string `json:"pin"`
}

func (a *API) assignPin(w http.ResponseWriter, r *http.Request) {
	cardNumber := chi.URLParam(r, "cardNumber")

	assign := assignPinRequest{}
	if err := json.NewDecoder(r.Body).Decode(&assign); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.authorizer.AssignPin(cardNumber, assign.Pin); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type withdrawalLimitRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (a *API) setWithdrawalLimit(w http.ResponseWriter, r *http.Request) {
	limit := withdrawalLimitRequest{}
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit.Amount.Sign() <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	a.authorizer.SetWithdrawalLimit(limit.Amount)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getTransactions(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")

	transactions, err := a.authorizer.ListTransactions(accountNumber)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transactions)
}

func toAccountResponse(account *models.Account) accountResponse {
	resp := accountResponse{
		AccountNumber: account.Number,
		Type:          account.Type,
		Balance:       account.Balance(),
	}
	if limit, err := account.OverdraftLimit(); err == nil {
		resp.OverdraftLimit = &limit
	}
	return resp
}
