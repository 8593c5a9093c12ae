// connection/strategies.go
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gewnthar/lobbying/config"
	"github.com/gewnthar/lobbying/database"
	"github.com/gewnthar/lobbying/restapi"
)

// OpenFunc opens and pings a SQL pool. database.Open is the default.
type OpenFunc func(ctx context.Context, driver, dsn string, logger *slog.Logger) (*sql.DB, error)

// sqlStrategy connects to a SQL endpoint, trying each configured port in order.
type sqlStrategy struct {
	name    string
	db      config.DatabaseConfig
	useCopy bool
	open    OpenFunc
	logger  *slog.Logger
}

func (s *sqlStrategy) Name() string { return s.name }

func (s *sqlStrategy) Connect(ctx context.Context) (Handle, error) {
	if s.db.Host == "" {
		return nil, &UnavailableError{Strategy: s.name, Err: errors.New("host not configured")}
	}
	ports := s.db.Ports
	if len(ports) == 0 {
		ports = []int{0}
	}
	open := s.open
	if open == nil {
		open = database.Open
	}

	var errs []error
	for i, port := range ports {
		pctx, cancel := portContext(ctx, len(ports)-i)
		dsn := database.DSN(s.db, port, connectTimeout(pctx))
		db, err := open(pctx, s.db.Driver, dsn, s.logger)
		cancel()
		if err == nil {
			s.logger.Debug("sql endpoint reachable", slog.String("strategy", s.name), slog.String("host", s.db.Host), slog.Int("port", port))
			store := database.NewStore(db, database.DialectFor(s.db.Driver), s.name, s.logger)
			store.UseCopy = s.useCopy
			return store, nil
		}
		errs = append(errs, fmt.Errorf("port %d: %w", port, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &UnavailableError{Strategy: s.name, Err: errors.Join(errs...)}
}

// Endpoints is the number of ports Connect may try.
func (s *sqlStrategy) Endpoints() int { return max(len(s.db.Ports), 1) }

// portContext gives one port an even share of the time left before ctx's
// deadline, so a port that hangs until its deadline still leaves time for the
// ports after it.
func portContext(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 1 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
}

// connectTimeout returns the time left before ctx's deadline, or zero.
func connectTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return max(time.Until(deadline), time.Second)
}

// NewLocalStrategy connects to the local development database.
func NewLocalStrategy(db config.DatabaseConfig, useCopy bool, logger *slog.Logger) Strategy {
	return &sqlStrategy{name: config.MethodLocal, db: db, useCopy: useCopy, logger: orDiscard(logger)}
}

// NewRemoteStrategy connects to the hosted database, trying each port in order.
func NewRemoteStrategy(db config.DatabaseConfig, useCopy bool, logger *slog.Logger) Strategy {
	return &sqlStrategy{name: config.MethodRemote, db: db, useCopy: useCopy, logger: orDiscard(logger)}
}

// RestStrategy reaches the destination through its REST API.
type RestStrategy struct {
	Cfg    config.RestConfig
	Logger *slog.Logger
}

func (s *RestStrategy) Name() string { return config.MethodRest }

func (s *RestStrategy) Connect(ctx context.Context) (Handle, error) {
	if s.Cfg.URL == "" || s.Cfg.ServiceKey == "" {
		return nil, &UnavailableError{Strategy: s.Name(), Err: errors.New("rest.url and rest.service_key must be set")}
	}
	c := restapi.NewClient(s.Cfg.URL, s.Cfg.ServiceKey, s.Cfg.Timeout, orDiscard(s.Logger))
	if err := c.Ping(ctx); err != nil {
		return nil, &UnavailableError{Strategy: s.Name(), Err: err}
	}
	return c, nil
}

// StrategiesFor returns the strategies for a --method value in priority order.
func StrategiesFor(method string, cfg *config.Config, logger *slog.Logger) ([]Strategy, error) {
	local := NewLocalStrategy(cfg.Local, cfg.Load.UseCopy, logger)
	remote := NewRemoteStrategy(cfg.Remote, cfg.Load.UseCopy, logger)
	rest := &RestStrategy{Cfg: cfg.Rest, Logger: logger}

	switch method {
	case config.MethodAuto:
		return []Strategy{local, remote, rest}, nil
	case config.MethodLocal:
		return []Strategy{local}, nil
	case config.MethodRemote:
		return []Strategy{remote}, nil
	case config.MethodRest:
		return []Strategy{rest}, nil
	default:
		return nil, fmt.Errorf("invalid method %q: must be one of auto, local, remote, rest", method)
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
