package constants

import (
	"flag"
)

var (
	OauthClientId     string
	OauthClientSecret string
	OauthRedirectUri  string
	FrontendUrl       string
	ListenAddr        string
	LocalRoot         string

	DbHost     string
	DbPort     int
	DbUser     string
	DbPassword string
	DbName     string

	// ApiRateLimit is the number of calls per second made to the photo service.
	ApiRateLimit float64
	ApiRateBurst int
)

func init() {
	flag.StringVar(&OauthClientId, "oauth_client_id", "dummy", "oauth client id")
	flag.StringVar(&OauthClientSecret, "oauth_client_secret", "dummy", "oauth client secret")
	flag.StringVar(&OauthRedirectUri, "oauth_redirect_uri", "http://localhost:8090/api/glink", "redirect uri registered for the oauth client")
	flag.StringVar(&FrontendUrl, "frontend_url", "http://localhost:5173", "URLs allowlisted by UI for CORS.")
	flag.StringVar(&ListenAddr, "listen_addr", ":8090", "address the web server listens on")
	flag.StringVar(&LocalRoot, "local_root", ".", "directory local upload sources are resolved against")
	flag.StringVar(&DbHost, "db_host", "picasa_db", "postgres host")
	flag.IntVar(&DbPort, "db_port", 5432, "postgres port")
	flag.StringVar(&DbUser, "db_user", "picasa", "postgres user")
	flag.StringVar(&DbPassword, "db_password", "picasa", "postgres password")
	flag.StringVar(&DbName, "db_name", "picasa_db", "postgres database name")
	flag.Float64Var(&ApiRateLimit, "api_rate_limit", 150, "calls per second to the photo service")
	flag.IntVar(&ApiRateBurst, "api_rate_burst", 10, "burst of calls to the photo service")
}

// Parse reads the command line. It is called once from main.
func Parse() {
	flag.Parse()
}
