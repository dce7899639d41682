package s3

import (
	"fmt"
	"time"
)

const defaultPresignTTL = 15 * time.Minute

type Config struct {
	Endpoint        string        `mapstructure:"Endpoint" validate:"omitempty,url"`
	Region          string        `mapstructure:"Region"`
	AccessKeyID     string        `mapstructure:"AccessKeyID" validate:"required"`
	SecretAccessKey string        `mapstructure:"SecretAccessKey" validate:"required"`
	Bucket          string        `mapstructure:"Bucket" validate:"required"`
	UsePathStyle    bool          `mapstructure:"UsePathStyle"`
	PresignTTL      time.Duration `mapstructure:"PresignTTL" validate:"gte=0"`
}

// Validate checks that all required fields are set and fills in defaults.
func (c *Config) Validate() error {
	if c.AccessKeyID == "" {
		return fmt.Errorf("AccessKeyID is required")
	}
	if c.SecretAccessKey == "" {
		return fmt.Errorf("SecretAccessKey is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("Bucket is required")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.PresignTTL <= 0 {
		c.PresignTTL = defaultPresignTTL
	}
	return nil
}
