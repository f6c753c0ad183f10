package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func (s *source) envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := s.value(key)
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func (s *source) envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := s.value(key)
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func (s *source) envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := s.value(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func (s *source) envUint64(key string, fallback uint64) (uint64, error) {
	raw := s.value(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s *source) envUint32(key string, fallback uint32) (uint32, error) {
	raw := s.value(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint32(v), nil
}

func (s *source) envOptionalUint(key string) (*uint, error) {
	raw := s.value(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	out := uint(v)
	return &out, nil
}

func (s *source) envBool(key string, fallback bool) (bool, error) {
	raw := s.value(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s *source) envCSV(key string, fallback []string) []string {
	raw := s.value(key)
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (s *source) logConfig(prefix string, serviceName string) LogConfig {
	return LogConfig{
		Level:    s.valueOr(prefix+"_LOG_LEVEL", s.valueOr("LOG_LEVEL", "info")),
		Format:   s.valueOr(prefix+"_LOG_FORMAT", s.valueOr("LOG_FORMAT", "text")),
		Output:   s.valueOr(prefix+"_LOG_OUTPUT", s.valueOr("LOG_OUTPUT", "console")),
		FilePath: s.valueOr(prefix+"_LOG_FILE", s.valueOr("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log"))),
	}
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
