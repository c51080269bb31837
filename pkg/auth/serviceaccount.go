package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

// ServiceAccount holds the fields of a Google service account key file that
// the login flow needs.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccountFile reads and parses a JSON key file.
func LoadServiceAccountFile(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read service account file: %w", err)
	}
	return ParseServiceAccount(data)
}

// ParseServiceAccount decodes a JSON key file. The client email and private
// key are required.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, apierror.Wrap(apierror.KindKey, http.StatusBadRequest, err, "decode service account key: %v", err)
	}
	if sa.Type != "" && sa.Type != "service_account" {
		return nil, apierror.New(apierror.KindKey, http.StatusBadRequest, "unsupported credentials type %q", sa.Type)
	}
	if strings.TrimSpace(sa.ClientEmail) == "" {
		return nil, apierror.New(apierror.KindKey, http.StatusBadRequest, "service account key has no client_email")
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		return nil, apierror.New(apierror.KindKey, http.StatusBadRequest, "service account key has no private_key")
	}
	return &sa, nil
}

// LoginConfig returns a LoginConfig populated from the key file.
func (sa *ServiceAccount) LoginConfig() LoginConfig {
	return LoginConfig{
		Issuer:     sa.ClientEmail,
		PrivateKey: []byte(sa.PrivateKey),
		TokenURL:   sa.TokenURI,
	}
}
