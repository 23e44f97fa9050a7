package web

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jyothri/picasa-bridge/picasa"
)

func oauth(r *mux.Router) {
	// OAuth routes with smaller body limit (16 KB)
	oauthRouter := r.PathPrefix("/api/").Subrouter()
	oauthRouter.Use(RequestSizeLimitMiddleware(OAuthCallbackMaxBodySize))
	oauthRouter.HandleFunc("/glink", GoogleAccountLinkingHandler).Methods("GET")
}

func GoogleAccountLinkingHandler(w http.ResponseWriter, r *http.Request) {
	// Retrieve authZ code from query params.
	err := r.ParseForm()
	if handleMaxBytesError(w, r, err, OAuthCallbackMaxBodySize) {
		return
	}
	if err != nil {
		slog.Error("Failed to parse OAuth form", "error", err)
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	var redirectUri = r.FormValue("redirectUri")
	if redirectUri == "" {
		http.Error(w, "redirectUri not found in request", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(redirectUri)
	if err != nil {
		slog.Error("Failed to parse redirect URI",
			"redirect_uri", redirectUri,
			"error", err)
		http.Error(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}
	code := r.FormValue("code")
	if code == "" {
		http.Error(w, "code not found in request", http.StatusBadRequest)
		return
	}

	// Exchange authZ for refresh token.
	cfg := authConfig(redirectUri, false)
	creds, err := photoClient.GetAccessToken(r.Context(), cfg, code)
	if err != nil {
		slog.Warn("Failed to exchange authorization code", "error", err)
		writeServiceError(w, err)
		return
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		slog.Warn("Access or Refresh token could not be obtained.")
		http.Error(w, "Access or Refresh token could not be obtained", http.StatusBadRequest)
		return
	}

	client_key := generateRandomString(12)
	display_name := getDisplayName(accountNickname(r, creds.AccessToken), client_key)

	scope := creds.Scope
	if scope == "" {
		scope = picasa.Scope
	}
	err = store.SaveOAuthToken(creds.AccessToken, creds.RefreshToken, display_name, client_key, scope)
	if err != nil {
		slog.Error("Failed to save OAuth token",
			"client_key", client_key,
			"error", err)
		http.Error(w, "Failed to save account information", http.StatusInternalServerError)
		return
	}
	slog.Info("Linked account", "client_key", client_key, "display_name", display_name)

	returnUrl := u.Scheme + "://" + u.Host + "/request"
	w.Header().Set("Location", returnUrl)
	w.WriteHeader(http.StatusFound)
}

// accountNickname reads the owner nickname from the album feed. An account
// without albums or a failed lookup yields an empty name.
func accountNickname(r *http.Request, accessToken string) string {
	albums, err := photoClient.GetAlbums(r.Context(), accessToken, picasa.Options{MaxResults: 1})
	if err != nil {
		slog.Warn("Failed to get account nickname", "error", err)
		return ""
	}
	if len(albums) == 0 {
		return ""
	}
	return albums[0].Nickname
}

// getDisplayName masks e-mail style identities and falls back to the
// client key when there is nothing to show.
func getDisplayName(identity string, client_key string) string {
	if identity == "" {
		return client_key
	}
	if !strings.Contains(identity, "@") {
		return identity
	}
	username := identity[0:strings.Index(identity, "@")]
	if len(username) < 6 {
		return client_key
	}
	return username[0:3] + "****" + username[len(username)-2:] + identity[strings.Index(identity, "@"):]
}

func generateRandomString(length int) string {
	var chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890-"
	ll := len(chars)
	b := make([]byte, length)
	rand.Read(b) // generates len(b) random bytes
	for i := 0; i < length; i++ {
		b[i] = chars[int(b[i])%ll]
	}
	return string(b)
}
