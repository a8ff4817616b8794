package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "parameter-sets",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Bucket = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty bucket")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("EWATERCYCLE_S3_ENDPOINT", "minio.local:9000")
	t.Setenv("EWATERCYCLE_S3_ACCESS_KEY", "key")
	t.Setenv("EWATERCYCLE_S3_SECRET_KEY", "secret")
	t.Setenv("EWATERCYCLE_S3_USE_SSL", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Endpoint != "minio.local:9000" || !cfg.UseSSL || cfg.Bucket != "parameter-sets" || cfg.Region != "us-east-1" {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}

	t.Setenv("EWATERCYCLE_S3_USE_SSL", "maybe")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected parse error")
	}
}

func TestConfigFromEnv_RequiresCredentials(t *testing.T) {
	t.Setenv("EWATERCYCLE_S3_ACCESS_KEY", "")
	t.Setenv("EWATERCYCLE_S3_SECRET_KEY", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error without credentials")
	}
}
