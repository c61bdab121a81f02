// ABOUTME: Builds the gateway's auth-profiles document from active credentials
// ABOUTME: The running gateway hot-reloads this file, so rotation needs no restart

package credentials

import "github.com/2389/clawhuddle/internal/store"

// ProfilesVersion is the auth-profiles schema version the gateway image reads.
const ProfilesVersion = 1

// Profile is one entry in the auth-profiles document.
type Profile struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Key      string `json:"key,omitempty"`
	Token    string `json:"token,omitempty"`
	Access   string `json:"access,omitempty"`
	Refresh  string `json:"refresh,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
}

// ProfileFile is the on-disk auth-profiles document.
type ProfileFile struct {
	Version  int                `json:"version"`
	Profiles map[string]Profile `json:"profiles"`
}

// BuildProfiles converts active credentials into the auth-profiles document.
func BuildProfiles(creds []Credential) ProfileFile {
	file := ProfileFile{Version: ProfilesVersion, Profiles: make(map[string]Profile, len(creds))}
	for _, c := range creds {
		switch c.Kind {
		case store.CredentialOAuth:
			file.Profiles[c.Provider+":oauth"] = Profile{
				Type:     "oauth",
				Provider: c.Provider,
				Access:   c.Access,
				Refresh:  c.Refresh,
				Expires:  c.Expires,
			}
		case store.CredentialSetupToken:
			file.Profiles[c.Provider+":setup-token"] = Profile{
				Type:     "token",
				Provider: c.Provider,
				Token:    c.Secret,
			}
		default:
			file.Profiles[c.Provider+":manual"] = Profile{
				Type:     "api_key",
				Provider: c.Provider,
				Key:      c.Secret,
			}
		}
	}
	return file
}
