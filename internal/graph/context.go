package graph

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/dmitrijs2005/adpipe/internal/common"
)

// ExecutionContext carries the credentials and account identifiers for one
// tenant. It is passed explicitly to every remote call; nothing in adpipe
// reads tokens or account ids from globals or the environment.
type ExecutionContext struct {
	AccessToken      string
	AppSecret        string // optional; enables appsecret_proof
	AdAccountID      string // with or without the "act_" prefix
	PageID           string
	InstagramActorID string
	// DryRun adds execution_options=["validate_only"] to mutating calls.
	DryRun bool
}

// Validate checks the fields every call needs.
func (ec ExecutionContext) Validate() error {
	if strings.TrimSpace(ec.AccessToken) == "" {
		return common.NewValidationError("execution context", "", "access_token", "is required")
	}
	if strings.TrimSpace(ec.AdAccountID) == "" {
		return common.NewValidationError("execution context", "", "ad_account_id", "is required")
	}
	return nil
}

// AccountID returns the ad account id in "act_<id>" form.
func (ec ExecutionContext) AccountID() string {
	id := strings.TrimSpace(ec.AdAccountID)
	if strings.HasPrefix(id, "act_") {
		return id
	}
	return "act_" + id
}

// AccountPath joins an account edge, e.g. AccountPath("advideos") = "act_42/advideos".
func (ec ExecutionContext) AccountPath(edge string) string {
	return ec.AccountID() + "/" + strings.TrimPrefix(edge, "/")
}

// AppSecretProof returns hex(HMAC-SHA256(access_token, app_secret)), or ""
// when no app secret is configured.
func (ec ExecutionContext) AppSecretProof() string {
	if ec.AppSecret == "" || ec.AccessToken == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(ec.AppSecret))
	mac.Write([]byte(ec.AccessToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// LogValue keeps credentials out of structured logs.
func (ec ExecutionContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ad_account_id", ec.AccountID()),
		slog.String("page_id", ec.PageID),
		slog.Bool("dry_run", ec.DryRun),
	)
}

// authorize adds credentials (and the dry-run flag for mutations) to params.
func (ec ExecutionContext) authorize(method string, params Params) Params {
	out := params.Clone()
	out[common.AccessTokenParam] = ec.AccessToken
	if proof := ec.AppSecretProof(); proof != "" {
		out[common.AppSecretProofParam] = proof
	}
	if ec.DryRun && method != "GET" {
		out["execution_options"] = []string{"validate_only"}
	}
	return out
}
