package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jyothri/picasa-bridge/constants"
	"github.com/jyothri/picasa-bridge/picasa"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// List of fields to be retreived on file resource from the drive API.
var fields []string = []string{"size", "id", "name", "mimeType", "modifiedTime", "md5Checksum"}
var paginationFields []string = []string{"nextPageToken", "incompleteSearch"}

const pageSize = 1000

const videoQuery = "mimeType contains 'video/' and trashed = false"

// DriveScope must be granted by the account for Drive sources to work.
const DriveScope = drive.DriveReadonlyScope

func driveConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     constants.OauthClientId,
		ClientSecret: constants.OauthClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{DriveScope},
	}
}

// driveServiceOptions is swapped in tests.
var driveServiceOptions = func(ctx context.Context, refreshToken string) []option.ClientOption {
	tokenSrc := oauth2.Token{
		RefreshToken: refreshToken,
	}
	return []option.ClientOption{option.WithTokenSource(driveConfig().TokenSource(ctx, &tokenSrc))}
}

func getDriveService(ctx context.Context, refreshToken string) (*drive.Service, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}
	driveService, err := drive.NewService(ctx, driveServiceOptions(ctx, refreshToken)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return driveService, nil
}

// OpenDriveFile downloads fileId, restricted to rng with a Range header.
func OpenDriveFile(ctx context.Context, refreshToken string, fileId string, rng *picasa.ByteRange) (*Source, error) {
	driveService, err := getDriveService(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	file, err := driveService.Files.Get(fileId).
		Fields(googleapi.Field(strings.Join(fields, ","))).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get drive file %s: %w", fileId, mapGoogleError(err, fileId))
	}
	if err := checkRange(rng, file.Size); err != nil {
		return nil, err
	}

	call := driveService.Files.Get(fileId).SupportsAllDrives(true).Context(ctx)
	if rng != nil {
		call.Header().Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}
	resp, err := call.Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download drive file %s: %w", fileId, mapGoogleError(err, fileId))
	}
	slog.Debug("Opened drive file",
		"file_id", fileId,
		"status", resp.StatusCode,
		"size", file.Size)

	return &Source{
		Kind:     SourceDrive,
		Name:     file.Name,
		MimeType: file.MimeType,
		Size:     file.Size,
		Md5Hash:  file.Md5Checksum,
		Body:     resp.Body,
	}, nil
}

// ListDriveVideos lists the video files of the account matching queryString.
func ListDriveVideos(ctx context.Context, refreshToken string, queryString string) ([]SourceFile, error) {
	driveService, err := getDriveService(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	query := videoQuery
	if queryString != "" {
		query = fmt.Sprintf("%s and (%s)", videoQuery, queryString)
	}
	files := make([]SourceFile, 0)
	filesListCall := driveService.Files.List().PageSize(pageSize).Q(query).Fields(googleapi.Field(strings.Join(append(addPrefix(fields, "files/"), paginationFields...), ","))).Context(ctx)
	hasNextPage := true
	for hasNextPage {
		fileList, err := filesListCall.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list drive files for query '%s': %w", query, err)
		}
		if fileList.IncompleteSearch {
			return nil, errors.New("incomplete search from drive API")
		}
		for _, file := range fileList.Files {
			files = append(files, SourceFile{
				Kind:     SourceDrive,
				Name:     file.Name,
				FileId:   file.Id,
				MimeType: file.MimeType,
				Size:     file.Size,
				Md5Hash:  file.Md5Checksum,
				ModTime:  parseTime(file.ModifiedTime),
			})
		}
		if fileList.NextPageToken == "" {
			hasNextPage = false
		}
		filesListCall = filesListCall.PageToken(fileList.NextPageToken)
	}
	return files, nil
}

func addPrefix(in []string, prefix string) []string {
	out := make([]string, len(in))
	for idx, str := range in {
		out[idx] = prefix + str
	}
	return out
}

func parseTime(inputTime string) time.Time {
	parsedTime, err := time.Parse(time.RFC3339, inputTime)
	if err != nil {
		slog.Warn("Failed to parse time, using zero time",
			"input", inputTime,
			"error", err)
		return time.Time{} // Return zero time on error
	}
	return parsedTime
}
