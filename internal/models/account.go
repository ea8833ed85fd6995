package models

// Account identifies the authenticated caller of the document API
type Account struct {
	ID       string `json:"account_id"`
	ClientID string `json:"client_id"`
}
