package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// maxBcryptInput is the longest input bcrypt hashes without truncating
const maxBcryptInput = 72

// ErrPasswordTooLong is returned when password plus pepper exceeds what bcrypt accepts
var ErrPasswordTooLong = errors.New("password too long")

// PasswordConfig holds configuration for password hashing and verification.
type PasswordConfig struct {
	BcryptCost int
	Pepper     string // optional global secret appended before hashing
}

// NewPasswordConfig creates a new password configuration from environment variables.
// It reads BCRYPT_COST (default: 12) and optionally PASSWORD_PEPPER.
func NewPasswordConfig() (*PasswordConfig, error) {
	cost := 12
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BCRYPT_COST: %v", err)
		}
		cost = parsed
	}

	config := &PasswordConfig{
		BcryptCost: cost,
		Pepper:     os.Getenv("PASSWORD_PEPPER"),
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return config, nil
}

// normalize validates the configuration.
func (c *PasswordConfig) normalize() error {
	if c.BcryptCost < 10 || c.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", c.BcryptCost)
	}
	if len(c.Pepper) >= maxBcryptInput {
		return fmt.Errorf("PASSWORD_PEPPER must be shorter than %d bytes", maxBcryptInput)
	}
	return nil
}

func (c *PasswordConfig) peppered(pw string) ([]byte, error) {
	password := pw + c.Pepper
	if len(password) > maxBcryptInput {
		return nil, ErrPasswordTooLong
	}
	return []byte(password), nil
}

// HashPassword hashes a password using bcrypt (with optional pepper).
func (c *PasswordConfig) HashPassword(pw string) (string, error) {
	password, err := c.peppered(pw)
	if err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword(password, c.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// VerifyPassword verifies a password against a stored hash (with optional pepper).
func (c *PasswordConfig) VerifyPassword(pw, storedHash string) bool {
	password, err := c.peppered(pw)
	if err != nil || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), password) == nil
}
