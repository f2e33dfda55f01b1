package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"storyreel/internal/config"
	"storyreel/internal/providers"
	"storyreel/internal/queue"
	"storyreel/internal/services/llm"
)

const (
	llmCheckTimeout   = 30 * time.Second
	redisCheckTimeout = 5 * time.Second
)

// CheckLLM verifies that the provider answers a JSON ping. It makes a single
// attempt with a 30-second timeout.
func CheckLLM(ctx context.Context, name string, provider llm.Provider) Result {
	if provider == nil {
		return Result{Name: name, Detail: "provider not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, llmCheckTimeout)
	defer cancel()

	if err := llm.HealthCheck(checkCtx, provider); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckLLMFromConfig builds the configured LLM variant and pings it.
func CheckLLMFromConfig(ctx context.Context, cfg *config.Config) Result {
	name := "LLM"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	name = fmt.Sprintf("LLM (%s)", cfg.LLM.Provider)
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key"}
	}
	set, err := providers.FromConfig{}.Build(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer set.Close()
	return CheckLLM(ctx, name, set.LLM)
}

// CheckProviders verifies that every configured provider variant can be built.
func CheckProviders(cfg *config.Config) Result {
	const name = "Providers"
	set, err := providers.FromConfig{}.Build(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer set.Close()
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("llm=%s images=%s narration=%s", cfg.LLM.Provider, cfg.Images.Provider, cfg.Narration.Provider),
	}
}

// CheckRedis pings the trigger list server.
func CheckRedis(ctx context.Context, cfg config.Redis) Result {
	const name = "Redis"
	if strings.TrimSpace(cfg.Addr) == "" {
		return Result{Name: name, Detail: "missing addr"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, redisCheckTimeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisCheckTimeout,
		MaxRetries:  -1,
	})
	defer client.Close()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.Addr, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (ping ok)", cfg.Addr)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckQueue inspects the queue database schema and integrity.
func CheckQueue(ctx context.Context, store *queue.Store) Result {
	const name = "Queue database"
	health, err := store.CheckHealth(ctx)
	switch {
	case err != nil:
		return Result{Name: name, Detail: err.Error()}
	case !health.DatabaseExists:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: missing)", health.DBPath)}
	case len(health.MissingTables) > 0:
		return Result{Name: name, Detail: "missing tables: " + strings.Join(health.MissingTables, ", ")}
	case len(health.MissingColumns) > 0:
		return Result{Name: name, Detail: "missing story columns: " + strings.Join(health.MissingColumns, ", ")}
	case !health.OK():
		return Result{Name: name, Detail: "integrity check failed"}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("schema v%d, %d stories, %d scenes", health.SchemaVersion, health.TotalStories, health.TotalScenes),
	}
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	return err.Error()
}
