package model

// Credential is the login half of an account, joined to Account by username.
type Credential struct {
	Username          string  `db:"username"`
	Email             string  `db:"email"`
	PasswordHash      string  `db:"password_hash"`
	PaymentCustomerID *string `db:"payment_customer_id"`
}

// HasPassword is false for shadow accounts, which never authenticate.
func (c *Credential) HasPassword() bool {
	return c.PasswordHash != ""
}

func (c *Credential) CustomerID() string {
	if c.PaymentCustomerID == nil {
		return ""
	}
	return *c.PaymentCustomerID
}
