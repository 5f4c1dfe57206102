package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
)

// FileArtifactStore reads summaries written by the ingestion pipeline under
// <root>/<user>/threads/<thread>/.
type FileArtifactStore struct {
	root string
}

func NewFileArtifactStore(root string) *FileArtifactStore {
	return &FileArtifactStore{root: root}
}

// Path returns the file that backs key. Every id must be a single path
// segment, so the result always stays under the store root.
func (s *FileArtifactStore) Path(key model.ArtifactKey) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, key.UserID, "threads", key.ThreadID)
	if key.IsGlobal() {
		return filepath.Join(dir, "global_summary.json"), nil
	}
	return filepath.Join(dir, "parsed", documentName(key.FileName)+".json"), nil
}

// Load reads the artifact for key. The parent directory is created when
// missing so the ingestion pipeline can write into it later.
func (s *FileArtifactStore) Load(_ context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errx.New(errx.KindArtifact, "artifact.mkdir", err, "prepare artifact directory")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errx.NotFound(errx.KindArtifact, "artifact.load", path)
		}
		return nil, errx.New(errx.KindArtifact, "artifact.load", err, "read artifact")
	}
	return decodeArtifact(b)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisArtifactStore reads summaries stored as JSON strings in Redis.
type RedisArtifactStore struct {
	rdb stringGetter
}

func NewRedisArtifactStore(rdb stringGetter) *RedisArtifactStore {
	return &RedisArtifactStore{rdb: rdb}
}

// Key returns the Redis key that backs key.
func (s *RedisArtifactStore) Key(key model.ArtifactKey) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if key.IsGlobal() {
		return fmt.Sprintf("artifact:%s:%s:global", key.UserID, key.ThreadID), nil
	}
	return fmt.Sprintf("artifact:%s:%s:doc:%s", key.UserID, key.ThreadID, documentName(key.FileName)), nil
}

func (s *RedisArtifactStore) Load(ctx context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	k, err := s.Key(key)
	if err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, k).Bytes()
	if err != nil {
		return nil, errx.WrapRedis("artifact.load", err)
	}
	return decodeArtifact(raw)
}

// documentName is the artifact name of an uploaded file: its base name
// without the extension, as the ingestion pipeline writes it.
func documentName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

func validateKey(key model.ArtifactKey) error {
	ids := [][2]string{{"user id", key.UserID}, {"thread id", key.ThreadID}}
	if !key.IsGlobal() {
		ids = append(ids, [2]string{"document name", documentName(key.FileName)})
	}
	for _, id := range ids {
		if err := model.ValidateID(id[0], id[1]); err != nil {
			return errx.New(errx.KindArtifact, "artifact.key", err, "invalid artifact key")
		}
	}
	return nil
}

func decodeArtifact(b []byte) (*model.Artifact, error) {
	var a model.Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, errx.New(errx.KindArtifact, "artifact.decode", err, "artifact is not valid JSON")
	}
	if err := json.Unmarshal(b, &a.Extra); err != nil {
		return nil, errx.New(errx.KindArtifact, "artifact.decode", err, "artifact is not a JSON object")
	}
	return &a, nil
}

// NewArtifactStore builds the configured artifact backend.
func NewArtifactStore(cfg model.ArtifactConfig, rdb redis.Cmdable) (model.ArtifactStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileArtifactStore(cfg.DataDir), nil
	case "redis":
		if rdb == nil {
			return nil, errx.New(errx.KindConfig, "artifact.new", nil, "redis artifact backend needs a redis client")
		}
		return NewRedisArtifactStore(rdb), nil
	default:
		return nil, errx.New(errx.KindConfig, "artifact.new", nil, fmt.Sprintf("unknown artifact backend %q", cfg.Backend))
	}
}

var (
	_ model.ArtifactStore = (*FileArtifactStore)(nil)
	_ model.ArtifactStore = (*RedisArtifactStore)(nil)
)
