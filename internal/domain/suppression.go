package domain

import "time"

// Suppression is a do-not-mail entry. Suppressed addresses are filtered at
// contact selection and re-checked by the dispatch worker before delivery.
type Suppression struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Reason    string    `json:"reason" db:"reason"`
	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
