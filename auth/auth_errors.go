package auth

// Messages carried by InvalidRequest and AccessDenied errors. Token endpoint
// failures never carry a message.
const (
	msgMissingClient        = "client is required"
	msgUnknownClient        = "unknown client"
	msgRedirectURIMismatch  = "redirect_uri is not registered for this client"
	msgResponseTypeMismatch = "response_type does not match the redirect_uri"
	msgInvalidFlow          = "unknown flow"
	msgClientToken          = "only a first-party session can authorize"
	msgTestAccountDenied    = "scope already granted to this client, a test account cannot be used"
	msgInvalidTestAccount   = "test_account_token does not belong to a test account"
	msgTestAccountConflict  = "user is already registered with a client the test account used"
	msgLoginWithTokenURL    = "first-party login uses the token endpoint"
	msgCredentialsRequired  = "email and password are required"
	msgNoUser               = "token is not bound to a user"
)
