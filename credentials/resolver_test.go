package credentials_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	keyring "github.com/zalando/go-keyring"

	credentials "github.com/agentvault/agentvault-go/credentials"
)

type fakeKeychain struct {
	entries  map[string]string
	failGets bool
	failSets bool
	gets     int
}

func newFakeKeychain() *fakeKeychain {
	return &fakeKeychain{entries: make(map[string]string)}
}

func (f *fakeKeychain) Get(service, account string) (string, error) {
	f.gets++
	if f.failGets {
		return "", errors.New("dbus unavailable")
	}
	value, ok := f.entries[service+"/"+account]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return value, nil
}

func (f *fakeKeychain) Set(service, account, value string) error {
	if f.failSets {
		return errors.New("keychain locked")
	}
	f.entries[service+"/"+account] = value
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolverFileLayer(t *testing.T) {
	t.Run("env format", func(t *testing.T) {
		path := writeFile(t, "creds.env", `
weather_svc=file-key-123
AGENTVAULT_OAUTH_billing_CLIENT_ID=id-from-file
AGENTVAULT_OAUTH_billing_CLIENT_SECRET=secret-from-file
`)
		resolver, err := credentials.NewResolver(credentials.WithFile(path))
		require.NoError(t, err)

		key, ok := resolver.GetAPIKey("weather_svc")
		require.True(t, ok)
		assert.Equal(t, "file-key-123", key)

		pair, ok := resolver.GetOAuthPair("billing")
		require.True(t, ok)
		assert.Equal(t, "id-from-file", pair.ClientID)
		assert.Equal(t, "secret-from-file", pair.ClientSecret)
	})

	t.Run("json format", func(t *testing.T) {
		path := writeFile(t, "creds.json", `{
			"weather_svc": "plain-key",
			"billing": {
				"apiKey": "billing-key",
				"oauth": {"clientId": "cid", "clientSecret": "csecret"}
			}
		}`)
		resolver, err := credentials.NewResolver(credentials.WithFile(path))
		require.NoError(t, err)

		key, ok := resolver.GetAPIKey("weather_svc")
		require.True(t, ok)
		assert.Equal(t, "plain-key", key)

		key, ok = resolver.GetAPIKey("BILLING")
		require.True(t, ok)
		assert.Equal(t, "billing-key", key)

		pair, ok := resolver.GetOAuthPair("billing")
		require.True(t, ok)
		assert.Equal(t, "cid", pair.ClientID)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := credentials.NewResolver(credentials.WithFile(filepath.Join(t.TempDir(), "absent.env")))
		assert.Error(t, err)
	})
}

func TestResolverEnvLayer(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_ENV_SVC", "env-key-456")
	t.Setenv("AGENTVAULT_OAUTH_ENV_SVC_CLIENT_ID", "env-cid")
	t.Setenv("AGENTVAULT_OAUTH_ENV_SVC_CLIENT_SECRET", "env-csecret")

	resolver, err := credentials.NewResolver()
	require.NoError(t, err)

	key, ok := resolver.GetAPIKey("env_svc")
	require.True(t, ok)
	assert.Equal(t, "env-key-456", key)

	pair, ok := resolver.GetOAuthPair("env_svc")
	require.True(t, ok)
	assert.Equal(t, "env-cid", pair.ClientID)
	assert.Equal(t, "env-csecret", pair.ClientSecret)

	source, ok := resolver.SourceOf("env_svc")
	require.True(t, ok)
	assert.Equal(t, credentials.SourceEnv, source)
}

func TestResolverCustomPrefix(t *testing.T) {
	t.Setenv("MYAPP_KEY_SVC", "prefixed")
	t.Setenv("AGENTVAULT_KEY_SVC", "default-prefixed")

	resolver, err := credentials.NewResolver(credentials.WithEnvPrefix("MYAPP"))
	require.NoError(t, err)

	key, ok := resolver.GetAPIKey("svc")
	require.True(t, ok)
	assert.Equal(t, "prefixed", key)
}

func TestResolverPriority(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_SHARED_SVC", "from-env")
	path := writeFile(t, "creds.env", "shared_svc=from-file\n")

	resolver, err := credentials.NewResolver(credentials.WithFile(path))
	require.NoError(t, err)

	key, ok := resolver.GetAPIKey("shared_svc")
	require.True(t, ok)
	assert.Equal(t, "from-file", key)

	source, ok := resolver.SourceOf("shared_svc")
	require.True(t, ok)
	assert.Equal(t, credentials.SourceFile, source)
}

func TestResolverKeychain(t *testing.T) {
	t.Run("lazy lookup cached after first hit", func(t *testing.T) {
		kc := newFakeKeychain()
		require.NoError(t, kc.Set("agentvault:vault_svc", "vault_svc", "kc-key"))

		resolver, err := credentials.NewResolver(
			credentials.WithKeychain(true),
			credentials.WithKeychainBackend(kc),
		)
		require.NoError(t, err)

		key, ok := resolver.GetAPIKey("vault_svc")
		require.True(t, ok)
		assert.Equal(t, "kc-key", key)

		getsAfterFirst := kc.gets
		key, ok = resolver.GetAPIKey("vault_svc")
		require.True(t, ok)
		assert.Equal(t, "kc-key", key)
		assert.Equal(t, getsAfterFirst, kc.gets)

		source, ok := resolver.SourceOf("vault_svc")
		require.True(t, ok)
		assert.Equal(t, credentials.SourceKeychain, source)
	})

	t.Run("disabled by default", func(t *testing.T) {
		kc := newFakeKeychain()
		require.NoError(t, kc.Set("agentvault:vault_svc", "vault_svc", "kc-key"))

		resolver, err := credentials.NewResolver(credentials.WithKeychainBackend(kc))
		require.NoError(t, err)

		_, ok := resolver.GetAPIKey("vault_svc")
		assert.False(t, ok)
		assert.Zero(t, kc.gets)
	})

	t.Run("read failure degrades to miss", func(t *testing.T) {
		kc := newFakeKeychain()
		kc.failGets = true

		resolver, err := credentials.NewResolver(
			credentials.WithKeychain(true),
			credentials.WithKeychainBackend(kc),
		)
		require.NoError(t, err)

		_, ok := resolver.GetAPIKey("vault_svc")
		assert.False(t, ok)
		_, ok = resolver.GetOAuthPair("vault_svc")
		assert.False(t, ok)
	})

	t.Run("write failure is fatal", func(t *testing.T) {
		kc := newFakeKeychain()
		kc.failSets = true

		resolver, err := credentials.NewResolver(credentials.WithKeychainBackend(kc))
		require.NoError(t, err)

		err = resolver.SetAPIKeyInKeychain("vault_svc", "value")
		var mgmtErr *credentials.KeyMgmtError
		require.ErrorAs(t, err, &mgmtErr)
		assert.Equal(t, "vault_svc", mgmtErr.ServiceID)
	})

	t.Run("oauth pair round trip", func(t *testing.T) {
		kc := newFakeKeychain()
		resolver, err := credentials.NewResolver(
			credentials.WithKeychain(true),
			credentials.WithKeychainBackend(kc),
		)
		require.NoError(t, err)

		pair := credentials.OAuthPair{ClientID: "cid", ClientSecret: "csecret"}
		require.NoError(t, resolver.SetOAuthPairInKeychain("vault_svc", pair))

		got, ok := resolver.GetOAuthPair("vault_svc")
		require.True(t, ok)
		assert.Equal(t, pair, got)
	})
}

func TestResolverOAuthBothHalvesRequired(t *testing.T) {
	t.Setenv("AGENTVAULT_OAUTH_HALF_SVC_CLIENT_ID", "only-id")

	resolver, err := credentials.NewResolver()
	require.NoError(t, err)

	_, ok := resolver.GetOAuthPair("half_svc")
	assert.False(t, ok)
}

func TestResolverList(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_B_SVC", "b")
	path := writeFile(t, "creds.env", "a_svc=a\n")

	resolver, err := credentials.NewResolver(credentials.WithFile(path))
	require.NoError(t, err)

	ids := resolver.List()
	assert.Contains(t, ids, "a_svc")
	assert.Contains(t, ids, "b_svc")
	assert.IsIncreasing(t, ids)
}
