package repository

import (
	"context"
	"time"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// Tables is the PostgREST surface the Supabase repositories need. Both
// *supabase.Client and *postgrest.Client satisfy it.
type Tables interface {
	From(table string) *postgrest.QueryBuilder
}

// IdentityCache stores resolved profiles between launches.
type IdentityCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// NewSupabase opens the table client shared by the repositories.
func NewSupabase(url, key string) (*supa.Client, error) {
	return supa.NewClient(url, key, nil)
}

// NewRPCClient opens a bare PostgREST client for stored procedure calls.
// Unlike the supabase wrapper it exposes ClientError, which is how transport
// failures of Rpc are reported.
func NewRPCClient(url, key string) *postgrest.Client {
	return postgrest.NewClient(url+"/rest/v1", "public", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
}
