package main

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/docker/model-mem/pkg/hub"
)

func TestCreateHubOptionsFromEnv(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantEndpoint string
	}{
		{
			name:         "defaults",
			wantEndpoint: hub.DefaultEndpoint,
		},
		{
			name:         "custom endpoint",
			env:          map[string]string{"HF_ENDPOINT": "https://mirror.example.com", "HF_TOKEN": "hf_x"},
			wantEndpoint: "https://mirror.example.com",
		},
		{
			name:         "valid timeout",
			env:          map[string]string{"MODEL_MEM_TIMEOUT": "90s"},
			wantEndpoint: hub.DefaultEndpoint,
		},
		{
			name:    "invalid timeout",
			env:     map[string]string{"MODEL_MEM_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			env:     map[string]string{"MODEL_MEM_TIMEOUT": "-1s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"HF_ENDPOINT", "HF_TOKEN", "HF_REVISION", "MODEL_MEM_TIMEOUT"} {
				t.Setenv(key, tt.env[key])
			}

			// Create a test logger that captures fatal errors
			originalLog := log
			defer func() { log = originalLog }()

			testLog := logrus.New()
			var exitCode int
			testLog.ExitFunc = func(code int) {
				exitCode = code
			}
			log = testLog

			opts := createHubOptionsFromEnv()

			if tt.wantErr {
				if exitCode != 1 {
					t.Errorf("Expected exit code 1, got %d", exitCode)
				}
				return
			}
			if exitCode != 0 {
				t.Errorf("Expected exit code 0, got %d", exitCode)
			}
			client, err := hub.NewClient(opts...)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if got := client.Endpoint(); got != tt.wantEndpoint {
				t.Errorf("Endpoint() = %q, want %q", got, tt.wantEndpoint)
			}
		})
	}
}
