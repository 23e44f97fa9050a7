package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jyothri/picasa-bridge/constants"
	_ "github.com/lib/pq"
)

const schemaVersion = 1

var db *sqlx.DB

// SetupDatabase initializes the database connection and runs migrations
func SetupDatabase() error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s "+
		"password=%s dbname=%s sslmode=disable",
		constants.DbHost, constants.DbPort, constants.DbUser, constants.DbPassword, constants.DbName)

	var err error
	db, err = sqlx.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to database")

	if err := migrateDB(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

func SaveOAuthToken(accessToken string, refreshToken string, displayName string, clientKey string, scope string) error {
	insert_row := `insert into privatetokens
			(access_token, refresh_token, display_name, client_key, scope, created_on)
		values
			($1, $2, $3, $4, $5, current_timestamp) RETURNING id`
	_, err := db.Exec(insert_row, accessToken, refreshToken, substr(displayName, 100), clientKey, scope)
	if err != nil {
		return fmt.Errorf("failed to save OAuth token for client %s: %w", clientKey, err)
	}
	return nil
}

func GetOAuthToken(clientKey string) (PrivateToken, error) {
	read_row :=
		`select id, access_token, refresh_token, display_name, client_key, created_on, scope, renewed_on
		FROM privatetokens
		WHERE client_key = $1`
	tokenData := PrivateToken{}
	err := db.Get(&tokenData, read_row, clientKey)
	if err != nil {
		return PrivateToken{}, fmt.Errorf("failed to get OAuth token for client %s: %w", clientKey, err)
	}
	return tokenData, nil
}

// UpdateAccessToken stores a renewed access token. The refresh token is kept.
func UpdateAccessToken(clientKey string, accessToken string) error {
	update_row := `update privatetokens
								 set access_token = $2, renewed_on = current_timestamp
								 where client_key = $1`
	res, err := db.Exec(update_row, clientKey, accessToken)
	if err != nil {
		return fmt.Errorf("failed to update access token for client %s: %w", clientKey, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for client %s: %w", clientKey, err)
	}
	if count != 1 {
		return fmt.Errorf("no account for client %s: %w", clientKey, sql.ErrNoRows)
	}
	return nil
}

func GetRequestAccountsFromDb() ([]Account, error) {
	read_row :=
		`select distinct display_name, client_key from privatetokens p
		`
	accounts := []Account{}
	err := db.Select(&accounts, read_row)
	if err != nil {
		return nil, fmt.Errorf("failed to get request accounts: %w", err)
	}
	return accounts, nil
}

func LogStartUpload(upload UploadRecord) error {
	insert_row := `insert into uploads
			(upload_key, client_key, album_id, source_kind, source_name, title, mime_type, md5hash,
			 range_start, range_end, total_size, transferred, status, created_on)
		values
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 'Pending', current_timestamp) RETURNING id`
	_, err := db.Exec(insert_row, upload.UploadKey, upload.ClientKey, upload.AlbumId, upload.SourceKind,
		substr(upload.SourceName, 2000), substr(upload.Title, 500), upload.MimeType, upload.Md5Hash,
		upload.RangeStart, upload.RangeEnd, upload.TotalSize)
	if err != nil {
		return fmt.Errorf("failed to insert upload %s (source=%s): %w", upload.UploadKey, upload.SourceName, err)
	}
	return nil
}

func UpdateUploadProgress(uploadKey string, transferred int64) error {
	update_row := `update uploads
								 set transferred = $2, status = 'Uploading'
								 where upload_key = $1 AND status IN ('Pending', 'Uploading')`
	_, err := db.Exec(update_row, uploadKey, transferred)
	if err != nil {
		return fmt.Errorf("failed to update progress of upload %s: %w", uploadKey, err)
	}
	return nil
}

// MarkUploadCompleted records the outcome of an accepted transfer.
func MarkUploadCompleted(uploadKey string, outcome UploadOutcome) error {
	update_row := `update uploads
								 set completed_at = current_timestamp, status = 'Completed',
								 transferred = $2, committed = $3, status_code = $4, complete = $5
								 where upload_key = $1`
	res, err := db.Exec(update_row, uploadKey, outcome.Transferred, outcome.Committed, outcome.StatusCode, outcome.Complete)
	if err != nil {
		return fmt.Errorf("failed to mark upload %s as completed: %w", uploadKey, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for upload %s: %w", uploadKey, err)
	}
	if count != 1 {
		slog.Warn("Unexpected rows affected when marking upload complete",
			"upload_key", uploadKey,
			"expected", 1,
			"actual", count)
	}
	slog.Info("Upload marked as completed", "upload_key", uploadKey, "complete", outcome.Complete)
	return nil
}

// MarkUploadFailed marks an upload as failed with an error message
func MarkUploadFailed(uploadKey string, errMsg string) error {
	update_row := `update uploads
								 set completed_at = current_timestamp, status = 'Failed', error_msg = $2
								 where upload_key = $1`
	res, err := db.Exec(update_row, uploadKey, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark upload %s as failed: %w", uploadKey, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for upload %s: %w", uploadKey, err)
	}
	if count != 1 {
		slog.Warn("Unexpected rows affected when marking upload failed",
			"upload_key", uploadKey,
			"expected", 1,
			"actual", count)
	}
	slog.Error("Upload marked as failed", "upload_key", uploadKey, "error", errMsg)
	return nil
}

func GetUploadByKey(uploadKey string) (*Upload, error) {
	read_row := `select id, upload_key, COALESCE(client_key, '') as client_key, COALESCE(album_id, '') as album_id,
		source_kind, COALESCE(source_name, '') as source_name, COALESCE(title, '') as title,
		COALESCE(mime_type, '') as mime_type, md5hash, range_start, range_end, total_size, transferred,
		committed, status_code, complete, status, error_msg, created_on, completed_at
		FROM uploads WHERE upload_key = $1`

	var upload Upload
	err := db.Get(&upload, read_row, uploadKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload %s: %w", uploadKey, err)
	}
	return &upload, nil
}

func GetUploadsFromDb(clientKey string, pageNo int) ([]Upload, int, error) {
	limit := 10
	offset := limit * (pageNo - 1)
	count_rows := `select count(*) from uploads where client_key = $1`
	read_row := `select id, upload_key, COALESCE(client_key, '') as client_key, COALESCE(album_id, '') as album_id,
		source_kind, COALESCE(source_name, '') as source_name, COALESCE(title, '') as title,
		COALESCE(mime_type, '') as mime_type, md5hash, range_start, range_end, total_size, transferred,
		committed, status_code, complete, status, error_msg, created_on, completed_at
		FROM uploads WHERE client_key = $1
		order by id desc limit $2 OFFSET $3`
	uploads := []Upload{}
	var count int
	err := db.Select(&uploads, read_row, clientKey, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get uploads for client %s page %d: %w", clientKey, pageNo, err)
	}
	err = db.Get(&count, count_rows, clientKey)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get upload count for client %s: %w", clientKey, err)
	}
	return uploads, count, nil
}

func migrateDB() error {
	var count int
	has_table_query := `select count(*)
		from information_schema.tables
		where table_name = $1`
	err := db.Get(&count, has_table_query, "version")
	if err != nil {
		return fmt.Errorf("failed to check for version table: %w", err)
	}
	if count == 0 {
		return migrateDBv0()
	}
	return nil
}

func migrateDBv0() error {
	insert_version_table := fmt.Sprintf(`delete from version;
		INSERT INTO version (id) VALUES (%d)`, schemaVersion)

	statements := []struct {
		name string
		sql  string
	}{
		{"privatetokens", create_privatetokens_table},
		{"uploads", create_uploads_table},
		{"version", create_version_table},
	}

	for _, stmt := range statements {
		_, err := db.Exec(stmt.sql)
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", stmt.name, err)
		}
		slog.Info("Created table", "table", stmt.name)
	}

	_, err := db.Exec(insert_version_table)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

const create_version_table string = `CREATE TABLE IF NOT EXISTS version (
		  id INT PRIMARY KEY
		)`

const create_privatetokens_table string = `CREATE TABLE IF NOT EXISTS privatetokens (
	id serial PRIMARY KEY NOT NULL,
	access_token VARCHAR(800),
	refresh_token VARCHAR(800),
	display_name VARCHAR(100),
	client_key VARCHAR(100) NOT NULL UNIQUE,
	created_on TIMESTAMP NOT NULL,
	renewed_on TIMESTAMP,
	scope VARCHAR(500)
)`

// Session locations are not stored.
const create_uploads_table string = `CREATE TABLE IF NOT EXISTS uploads (
	id serial PRIMARY KEY NOT NULL,
	upload_key VARCHAR(64) NOT NULL UNIQUE,
	client_key VARCHAR(100),
	album_id VARCHAR(100),
	source_kind VARCHAR(20) NOT NULL,
	source_name VARCHAR(2000),
	title VARCHAR(500),
	mime_type VARCHAR(200),
	md5hash VARCHAR(60),
	range_start BIGINT NOT NULL,
	range_end BIGINT NOT NULL,
	total_size BIGINT NOT NULL,
	transferred BIGINT NOT NULL DEFAULT 0,
	committed BIGINT,
	status_code INT,
	complete boolean,
	status VARCHAR(50) NOT NULL,
	error_msg TEXT,
	created_on TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
)`

type PrivateToken struct {
	Id           int          `db:"id" json:"id"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	Client_key   string       `db:"client_key"`
	CreatedOn    time.Time    `db:"created_on"`
	RenewedOn    sql.NullTime `db:"renewed_on"`
	DisplayName  string       `db:"display_name"`
	Scope        string       `db:"scope"`
}

type Upload struct {
	Id          int            `db:"id" json:"id"`
	UploadKey   string         `db:"upload_key" json:"upload_key"`
	ClientKey   string         `db:"client_key" json:"client_key"`
	AlbumId     string         `db:"album_id" json:"album_id"`
	SourceKind  string         `db:"source_kind" json:"source_kind"`
	SourceName  string         `db:"source_name" json:"source_name"`
	Title       string         `db:"title" json:"title"`
	MimeType    string         `db:"mime_type" json:"mime_type"`
	Md5Hash     sql.NullString `db:"md5hash" json:"md5hash"`
	RangeStart  int64          `db:"range_start" json:"range_start"`
	RangeEnd    int64          `db:"range_end" json:"range_end"`
	TotalSize   int64          `db:"total_size" json:"total_size"`
	Transferred int64          `db:"transferred" json:"transferred"`
	Committed   sql.NullInt64  `db:"committed" json:"committed"`
	StatusCode  sql.NullInt32  `db:"status_code" json:"status_code"`
	Complete    sql.NullBool   `db:"complete" json:"complete"`
	Status      string         `db:"status" json:"status"`
	ErrorMsg    sql.NullString `db:"error_msg" json:"error_msg"`
	CreatedOn   time.Time      `db:"created_on" json:"created_on"`
	CompletedAt sql.NullTime   `db:"completed_at" json:"completed_at"`
}

type Account struct {
	ClientKey   string `db:"client_key" json:"clientKey"`
	DisplayName string `db:"display_name" json:"displayName"`
}

func substr(s string, end int) string {
	if len(s) < end {
		return s
	}
	counter := 0
	for i := range s {
		if counter == end {
			return s[0:i]
		}
		counter++
	}
	return s
}
