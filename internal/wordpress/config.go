package wordpress

import (
	"crypto/rand"
	_ "embed"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed stubs/wp-config.php
var configTemplate string

// saltKeys are the secret keys WordPress expects in wp-config.php.
var saltKeys = []string{
	"AUTH_KEY", "SECURE_AUTH_KEY", "LOGGED_IN_KEY", "NONCE_KEY",
	"AUTH_SALT", "SECURE_AUTH_SALT", "LOGGED_IN_SALT", "NONCE_SALT",
}

// passwordAlphabet excludes quotes and backslashes so generated values are
// safe inside PHP and SQL string literals.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const saltAlphabet = passwordAlphabet + "!#$%&()*+,-./:;<=>?@[]^_{|}~"

// Credentials are the database account of a site.
type Credentials struct {
	DBName     string
	DBUser     string
	DBPassword string
	DBHost     string
}

// CredentialsFor derives database names from the container name and
// generates a fresh password.
func CredentialsFor(container string) (Credentials, error) {
	password, err := GeneratePassword(24)
	if err != nil {
		return Credentials{}, err
	}
	name := strings.ReplaceAll(container, "-", "_")
	if len(name) > 32 {
		name = name[:32]
	}
	return Credentials{
		DBName:     name,
		DBUser:     name,
		DBPassword: password,
		DBHost:     "localhost",
	}, nil
}

// Identity holds the site-specific constants written to wp-config.php.
type Identity struct {
	SiteID    string
	SiteKey   string
	Debug     bool
	Constants map[string]string
	Salts     map[string]string // generated when nil
}

// GeneratePassword returns a random alphanumeric string of length n.
func GeneratePassword(n int) (string, error) {
	return randomString(n, passwordAlphabet)
}

// GenerateSalts returns a value for every WordPress secret key.
func GenerateSalts() (map[string]string, error) {
	salts := make(map[string]string, len(saltKeys))
	for _, key := range saltKeys {
		v, err := randomString(64, saltAlphabet)
		if err != nil {
			return nil, err
		}
		salts[key] = v
	}
	return salts, nil
}

func randomString(n int, alphabet string) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("length must be positive, got %d", n)
	}
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random data: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// phpString escapes s for a single-quoted PHP literal.
func phpString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func defineLine(key, value string) string {
	return fmt.Sprintf("define( '%s', '%s' );", key, phpString(value))
}

// RenderConfig produces wp-config.php for a site. Placeholders in the
// embedded template are replaced literally.
func RenderConfig(creds Credentials, id Identity) (string, error) {
	salts := id.Salts
	if salts == nil {
		var err error
		if salts, err = GenerateSalts(); err != nil {
			return "", err
		}
	}
	saltLines := make([]string, 0, len(saltKeys))
	for _, key := range saltKeys {
		saltLines = append(saltLines, defineLine(key, salts[key]))
	}

	keys := make([]string, 0, len(id.Constants))
	for k := range id.Constants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var constants strings.Builder
	for _, k := range keys {
		constants.WriteString(defineLine(k, id.Constants[k]))
		constants.WriteString("\n")
	}

	debug := "false"
	if id.Debug {
		debug = "true"
	}
	host := creds.DBHost
	if host == "" {
		host = "localhost"
	}

	return strings.NewReplacer(
		"{db_name}", phpString(creds.DBName),
		"{db_user}", phpString(creds.DBUser),
		"{db_password}", phpString(creds.DBPassword),
		"{db_host}", phpString(host),
		"{salts}", strings.Join(saltLines, "\n"),
		"{debug}", debug,
		"{site_id}", phpString(id.SiteID),
		"{site_key}", phpString(id.SiteKey),
		"{constants}", constants.String(),
	).Replace(configTemplate), nil
}

// sqlString escapes s for a single-quoted MySQL literal.
func sqlString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `''`).Replace(s)
}

func sqlIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// CreateDatabaseSQL returns the statements creating the site database and
// its user. The output is fed to mysql on stdin.
func CreateDatabaseSQL(creds Credentials) string {
	user := fmt.Sprintf("'%s'@'localhost'", sqlString(creds.DBUser))
	return strings.Join([]string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci;", sqlIdent(creds.DBName)),
		fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY '%s';", user, sqlString(creds.DBPassword)),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO %s;", sqlIdent(creds.DBName), user),
		"FLUSH PRIVILEGES;",
	}, "\n") + "\n"
}

// DefaultTitle derives a site title from its domain: "shop.example.com"
// becomes "Shop Example".
func DefaultTitle(domain string) string {
	labels := strings.Split(strings.ToLower(domain), ".")
	if len(labels) > 1 {
		labels = labels[:len(labels)-1]
	}
	words := strings.NewReplacer("-", " ", "_", " ").Replace(strings.Join(labels, " "))
	return cases.Title(language.English).String(words)
}
