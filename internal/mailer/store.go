package mailer

import (
	"context"
	"fmt"
	"strconv"
)

// Setting keys under which the relay is persisted. The password is never
// stored.
const (
	keyProvider    = "smtp.provider"
	keyHost        = "smtp.host"
	keyPort        = "smtp.port"
	keyUsername    = "smtp.username"
	keyFrom        = "smtp.from"
	keyFromName    = "smtp.from_name"
	keyImplicitTLS = "smtp.implicit_tls"
)

// SettingsStore is a key/value store for non-secret settings.
type SettingsStore interface {
	Setting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// LoadSettings overlays stored values on base. Keys never saved keep the
// base value.
func LoadSettings(ctx context.Context, store SettingsStore, base Settings) (Settings, error) {
	s := base
	var err error
	get := func(key, def string) string {
		if err != nil {
			return def
		}
		var v string
		v, err = store.Setting(ctx, key, def)
		return v
	}

	s.Provider = get(keyProvider, base.Provider)
	s.Host = get(keyHost, base.Host)
	s.Username = get(keyUsername, base.Username)
	s.From = get(keyFrom, base.From)
	s.FromName = get(keyFromName, base.FromName)
	port := get(keyPort, strconv.Itoa(base.Port))
	tls := get(keyImplicitTLS, strconv.FormatBool(base.ImplicitTLS))
	if err != nil {
		return base, fmt.Errorf("load smtp settings: %w", err)
	}

	if p, perr := strconv.Atoi(port); perr == nil {
		s.Port = p
	}
	if b, berr := strconv.ParseBool(tls); berr == nil {
		s.ImplicitTLS = b
	}
	return s, nil
}

// SaveSettings persists every field of s except the password.
func SaveSettings(ctx context.Context, store SettingsStore, s Settings) error {
	pairs := [][2]string{
		{keyProvider, s.Provider},
		{keyHost, s.Host},
		{keyPort, strconv.Itoa(s.Port)},
		{keyUsername, s.Username},
		{keyFrom, s.From},
		{keyFromName, s.FromName},
		{keyImplicitTLS, strconv.FormatBool(s.ImplicitTLS)},
	}
	for _, kv := range pairs {
		if err := store.SetSetting(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("save smtp setting %s: %w", kv[0], err)
		}
	}
	return nil
}
