package model

import "telegram-outreach-fleet/internal/domain"

// recommendedAccountsPerApp is the soft ceiling the assigner prefers; the
// hard ceiling is MaxAccounts.
const recommendedAccountsPerApp = 25

// TelegramApp is one api_id/api_hash pair shared by a bounded number of
// accounts.
type TelegramApp struct {
	ID           string
	APIID        int
	APIHash      string
	Name         string
	AccountCount int
	MaxAccounts  int
}

func NewTelegramApp(id string, apiID int, apiHash string) (*TelegramApp, error) {
	if id == "" || apiID == 0 || apiHash == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &TelegramApp{ID: id, APIID: apiID, APIHash: apiHash, MaxAccounts: recommendedAccountsPerApp}, nil
}

// HasCapacity reports whether another account may bind to this app.
func (t *TelegramApp) HasCapacity() bool {
	max := t.MaxAccounts
	if max <= 0 {
		max = recommendedAccountsPerApp
	}
	return t.AccountCount < max
}
