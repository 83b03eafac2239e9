package models

// Card links a card number to the account it draws from. The number always
// carries a valid check digit; minting and validation live in cardgen.
type Card struct {
	Number         string
	AccountNumber  string
	ExpirationDate string // YYMM
}
