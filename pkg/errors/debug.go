package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	stripe "github.com/stripe/stripe-go/v84"
)

// ErrorDump flattens an error chain for logging. Postgres and Stripe details
// are lifted out of driver and SDK errors when present.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`

	StripeType        string `json:"stripe_type,omitempty"`
	StripeCode        string `json:"stripe_code,omitempty"`
	StripeDeclineCode string `json:"stripe_decline_code,omitempty"`
	StripeRequestID   string `json:"stripe_request_id,omitempty"`
	StripeStatus      int    `json:"stripe_status,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		d.StripeType = string(stripeErr.Type)
		d.StripeCode = string(stripeErr.Code)
		d.StripeDeclineCode = string(stripeErr.DeclineCode)
		d.StripeRequestID = stripeErr.RequestID
		d.StripeStatus = stripeErr.HTTPStatusCode
	}
	return d
}

// Fields returns the non-empty parts of the dump as log fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("pg_code", d.PGCode)
	add("pg_constraint", d.PGConstraint)
	add("pg_table", d.PGTable)
	add("pg_detail", d.PGDetail)
	add("stripe_type", d.StripeType)
	add("stripe_code", d.StripeCode)
	add("stripe_decline_code", d.StripeDeclineCode)
	add("stripe_request_id", d.StripeRequestID)
	if d.StripeStatus != 0 {
		fields["stripe_status"] = d.StripeStatus
	}
	return fields
}
