package firebase

import "github.com/edupath/authsync"

func init() {
	authsync.RegisterConfigKeys(
		authsync.ConfigKeyInfo{
			Key:         "firebase.apiKey",
			Description: "Web API key of the Firebase project",
			Type:        "string",
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.projectId",
			Description: "Firebase project ID, the expected audience of ID tokens",
			Type:        "string",
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.identityToolkitUrl",
			Description: "Base URL of the Identity Toolkit API, override for the auth emulator",
			Type:        "string",
			Default:     DefaultIdentityToolkitURL,
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.secureTokenUrl",
			Description: "Base URL of the Secure Token API, override for the auth emulator",
			Type:        "string",
			Default:     DefaultSecureTokenURL,
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.jwksUrl",
			Description: "Where ID token signing keys are published",
			Type:        "string",
			Default:     DefaultJWKSURL,
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.skipVerify",
			Description: "Skip ID token signature checks, for the auth emulator only",
			Type:        "bool",
			Default:     false,
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.refreshBefore",
			Description: "How long before expiry an ID token is refreshed",
			Type:        "duration",
			Default:     "5m",
		},
		authsync.ConfigKeyInfo{
			Key:         "firebase.retryInterval",
			Description: "Delay between failed background refreshes",
			Type:        "duration",
			Default:     "30s",
		},
	)
}

// ConfigFromSettings builds a Config from the firebase.* keys of
// authsync.Config.
func ConfigFromSettings() Config {
	return Config{
		APIKey:             authsync.ConfigString("firebase.apiKey"),
		ProjectID:          authsync.ConfigString("firebase.projectId"),
		IdentityToolkitURL: authsync.ConfigString("firebase.identityToolkitUrl"),
		SecureTokenURL:     authsync.ConfigString("firebase.secureTokenUrl"),
		JWKSURL:            authsync.ConfigString("firebase.jwksUrl"),
		SkipVerify:         authsync.ConfigBool("firebase.skipVerify"),
		RefreshBefore:      authsync.ConfigDuration("firebase.refreshBefore"),
		RetryInterval:      authsync.ConfigDuration("firebase.retryInterval"),
	}
}
