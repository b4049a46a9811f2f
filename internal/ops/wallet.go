package ops

import (
	"encoding/csv"
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"mmhedge/internal/errors"
	"mmhedge/pkg/exception"
)

var walletHeader = []string{"wallet_name", "l1_address", "l1_private_key"}

const walletJWTColumn = "jwt"

// Wallet holds the credentials of one primary venue account.
type Wallet struct {
	Name         string
	L1Address    string
	L1PrivateKey string
	JWT          string
}

// String never prints secrets.
func (w Wallet) String() string {
	return w.Name + "(" + w.L1Address + ")"
}

// Wallets is keyed by wallet name.
type Wallets map[string]Wallet

// Names returns the sorted wallet names.
func (w Wallets) Names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadWallets reads wallets.csv.
func LoadWallets(path string) (Wallets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrSetup, "open wallets %s: %v", path, err)
	}
	defer f.Close()
	return ParseWallets(f)
}

// ParseWallets reads "wallet_name,l1_address,l1_private_key[,jwt]" rows.
// Lines starting with # are skipped. Private keys must start with 0x and
// wallet names must be unique.
func ParseWallets(r io.Reader) (Wallets, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(exception.ErrSetup, "wallets file is empty")
	}
	if err != nil {
		return nil, errors.Wrapf(exception.ErrSetup, "read wallets header: %v", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	withJWT := len(header) == len(walletHeader)+1 && header[len(walletHeader)] == walletJWTColumn
	if !withJWT && !slices.Equal(header, walletHeader) || withJWT && !slices.Equal(header[:len(walletHeader)], walletHeader) {
		return nil, errors.Wrapf(exception.ErrSetup, "invalid wallets header %v, expected %s[,%s]", header, strings.Join(walletHeader, ","), walletJWTColumn)
	}

	wallets := make(Wallets)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(exception.ErrSetup, "read wallets: %v", err)
		}
		line, _ := reader.FieldPos(0)
		if blank(row) {
			continue
		}
		if len(row) != len(header) {
			return nil, errors.Wrapf(exception.ErrSetup, "wallets line %d: expected %d columns, found %d", line, len(header), len(row))
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}

		w := Wallet{Name: row[0], L1Address: row[1], L1PrivateKey: row[2]}
		if withJWT {
			w.JWT = row[3]
		}
		if w.Name == "" || w.L1Address == "" || w.L1PrivateKey == "" {
			return nil, errors.Wrapf(exception.ErrSetup, "wallets line %d: missing field", line)
		}
		if !strings.HasPrefix(w.L1PrivateKey, "0x") {
			return nil, errors.Wrapf(exception.ErrSetup, "wallets line %d: l1_private_key of %s must start with 0x", line, w.Name)
		}
		if _, dup := wallets[w.Name]; dup {
			return nil, errors.Wrapf(exception.ErrSetup, "wallets line %d: duplicate wallet_name %s", line, w.Name)
		}
		wallets[w.Name] = w
	}

	if len(wallets) == 0 {
		return nil, errors.Wrap(exception.ErrSetup, "no wallets found")
	}
	return wallets, nil
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
