package s3

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Container parameter keys understood by the object store backend.
const (
	ConnectionStringKey  = "ConnectionString"
	ServiceURIKey        = "ServiceUri"
	ContainerNameKey     = "ContainerName"
	CreateIfNotExistsKey = "CreateIfNotExists"
	RegionKey            = "Region"
	UsePathStyleKey      = "UsePathStyle"
)

const (
	defaultRegion            = "us-east-1"
	defaultMaxCreateAttempts = 5
)

// Config options for the S3 backend
type Config struct {
	Bucket          string // S3 bucket name
	Region          string // AWS region (default: us-east-1)
	Endpoint        string // Optional custom endpoint for S3-compatible services
	AccessKeyID     string // Static access key; empty uses the default credential chain
	SecretAccessKey string // Static secret key
	SessionToken    string // Optional session token for static credentials
	UsePathStyle    bool   // Use path-style addressing (MinIO and friends)

	CreateBucketIfNotExist bool // Create bucket on startup if missing
	MaxCreateAttempts      int  // Id generation attempts on naming conflicts (default: 5)
}

// ConfigFromParameters builds a Config from a container's free-form
// parameters. The bucket is ContainerName, falling back to containerID.
// Either ConnectionString or ServiceUri must be given; ServiceUri resolves
// credentials through the default AWS chain.
func ConfigFromParameters(containerID string, params map[string]string) (Config, error) {
	config := Config{
		Region:                 defaultRegion,
		CreateBucketIfNotExist: true,
	}

	config.Bucket = strings.TrimSpace(params[ContainerNameKey])
	if config.Bucket == "" {
		config.Bucket = strings.TrimSpace(containerID)
	}
	if config.Bucket == "" {
		return Config{}, fmt.Errorf("'%s' parameter is required when the container id is empty", ContainerNameKey)
	}

	if raw, ok := params[CreateIfNotExistsKey]; ok {
		create, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("'%s' must be a boolean, got %q", CreateIfNotExistsKey, raw)
		}
		config.CreateBucketIfNotExist = create
	}

	if raw, ok := params[UsePathStyleKey]; ok {
		pathStyle, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("'%s' must be a boolean, got %q", UsePathStyleKey, raw)
		}
		config.UsePathStyle = pathStyle
	}

	if region := strings.TrimSpace(params[RegionKey]); region != "" {
		config.Region = region
	}

	if connectionString := strings.TrimSpace(params[ConnectionStringKey]); connectionString != "" {
		if err := applyConnectionString(&config, connectionString); err != nil {
			return Config{}, err
		}
		return config, nil
	}

	if serviceURI := strings.TrimSpace(params[ServiceURIKey]); serviceURI != "" {
		u, err := url.Parse(serviceURI)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("'%s' must be an absolute URI, got %q", ServiceURIKey, serviceURI)
		}
		config.Endpoint = serviceURI
		return config, nil
	}

	return Config{}, fmt.Errorf("'%s' or '%s' parameter is required", ConnectionStringKey, ServiceURIKey)
}

// applyConnectionString parses "Key=Value;Key=Value" pairs. Recognized keys
// are Endpoint, Region, AccessKeyId, SecretAccessKey, SessionToken and
// UsePathStyle (case-insensitive).
func applyConnectionString(config *Config, connectionString string) error {
	for _, part := range strings.Split(connectionString, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return fmt.Errorf("malformed connection string segment %q", part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "endpoint":
			config.Endpoint = value
		case "region":
			config.Region = value
		case "accesskeyid":
			config.AccessKeyID = value
		case "secretaccesskey":
			config.SecretAccessKey = value
		case "sessiontoken":
			config.SessionToken = value
		case "usepathstyle":
			pathStyle, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("connection string UsePathStyle must be a boolean, got %q", value)
			}
			config.UsePathStyle = pathStyle
		default:
			return fmt.Errorf("unknown connection string key %q", key)
		}
	}

	if (config.AccessKeyID == "") != (config.SecretAccessKey == "") {
		return errors.New("connection string must set both AccessKeyId and SecretAccessKey")
	}

	return nil
}
