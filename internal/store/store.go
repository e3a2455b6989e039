package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

var ErrNoSnapshot = errors.New("no snapshot has been written")

// Store persists the whole reservation state as one snapshot. Save overwrites
// the previous snapshot.
type Store interface {
	Load(ctx context.Context) (*reservation.State, error)
	Save(ctx context.Context, state *reservation.State) error
	Close() error
}

type snapshot struct {
	Holder  holder                         `json:"holder"`
	Active  *reservation.Request           `json:"active"`
	Pending map[string]reservation.Request `json:"pending"`
}

type holder struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

func Encode(state *reservation.State) ([]byte, error) {
	doc := snapshot{
		Holder: holder{
			Account:  state.Holder.Account,
			Password: state.Holder.Password,
		},
		Active:  state.Active,
		Pending: state.Pending,
	}
	if doc.Pending == nil {
		doc.Pending = map[string]reservation.Request{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

func Decode(raw []byte) (*reservation.State, error) {
	var doc snapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	state := reservation.NewState()
	state.Holder = reservation.Credentials{
		Account:  doc.Holder.Account,
		Password: doc.Holder.Password,
	}
	state.Active = doc.Active
	for email, req := range doc.Pending {
		state.Pending[email] = req
	}
	return state, nil
}

// LoadOrEmpty restores the last snapshot, falling back to an empty state when
// none exists or it cannot be read.
func LoadOrEmpty(ctx context.Context, s Store, logger *zap.Logger) *reservation.State {
	if logger == nil {
		logger = zap.NewNop()
	}
	state, err := s.Load(ctx)
	if err == nil {
		logger.Info("snapshot restored",
			zap.Int("pending", len(state.Pending)),
			zap.Bool("has_active", state.Active != nil))
		return state
	}
	if errors.Is(err, ErrNoSnapshot) {
		logger.Info("no snapshot found, starting empty")
	} else {
		logger.Warn("snapshot unreadable, starting empty", zap.Error(err))
	}
	return reservation.NewState()
}

type Config struct {
	Backend     string
	Path        string
	RedisAddr   string
	RedisKey    string
	PostgresDSN string
	Name        string
}

// Open builds the Store selected by cfg.Backend: "file" (default), "redis" or
// "postgres".
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, errors.New("redis snapshot backend requires REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisKey), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN, cfg.Name)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
