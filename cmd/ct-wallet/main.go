package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
	"github.com/juno-intents/confidential-ledger/internal/instruction"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
	"github.com/juno-intents/confidential-ledger/internal/secrets"
	"github.com/juno-intents/confidential-ledger/internal/wallet"
	"github.com/urfave/cli/v2"
)

const defaultSecretKey = "CT_WALLET_SECRET_KEY"

func main() {
	if err := newApp(os.Stdout).RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "ct-wallet",
		Usage:     "owner-side keys and instruction builder for confidential token accounts",
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secrets-driver", Value: secrets.DriverEnv, Usage: "secrets driver: env|aws"},
			&cli.StringFlag{Name: "secret-key", Value: defaultSecretKey, Usage: "env var or secret id holding the ElGamal secret key hex"},
			&cli.Uint64Flag{Name: "dlog-baby-steps", Value: 1 << 16, Usage: "discrete log table size"},
			&cli.Uint64Flag{Name: "dlog-giant-steps", Value: 1 << 16, Usage: "discrete log giant steps (decryptable bound is baby*giant)"},
		},
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "generate a fresh ElGamal key pair",
				Action: keygen,
			},
			{
				Name:   "pubkey",
				Usage:  "print the ElGamal public key for the configured secret",
				Action: pubkey,
			},
			{
				Name:  "open-instruction",
				Usage: "build an open_account instruction",
				Flags: accountFlags(),
				Action: func(c *cli.Context) error {
					keys, err := loadKeys(c)
					if err != nil {
						return err
					}
					in, err := accountInstruction(c, instruction.KindOpenAccount)
					if err != nil {
						return err
					}
					zero, err := keys.DecryptableZero()
					if err != nil {
						return err
					}
					in.ElGamalPubkey = keys.ElGamalPubkey()
					in.DecryptableZeroBalance = zero
					return writeInstruction(c, in)
				},
			},
			{
				Name:  "encrypt",
				Usage: "encrypt an amount for a recipient and build a transfer_credit instruction",
				Flags: append(accountFlags(),
					&cli.StringFlag{Name: "recipient", Required: true, Usage: "recipient ElGamal public key hex"},
					&cli.StringFlag{Name: "auditor", Usage: "mint auditor ElGamal public key hex (when auditing is enabled)"},
					&cli.Uint64Flag{Name: "amount", Required: true, Usage: "amount to transfer"},
				),
				Action: encrypt,
			},
			{
				Name:   "balance",
				Usage:  "decrypt the available and pending balance of an account",
				Flags:  layoutFlags(),
				Action: balance,
			},
			{
				Name:   "apply-instruction",
				Usage:  "build an apply_pending_balance instruction for the account as observed",
				Flags:  layoutFlags(),
				Action: applyInstruction,
			},
		},
	}
}

func accountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "mint", Required: true, Usage: "mint pubkey hex"},
		&cli.StringFlag{Name: "token-account", Required: true, Usage: "token account pubkey hex"},
	}
}

func layoutFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "layout", Usage: "account layout hex (as served by the account API)"},
		&cli.StringFlag{Name: "api-url", Usage: "account API base URL; used with --mint and --token-account when --layout is unset"},
		&cli.StringFlag{Name: "mint", Usage: "mint pubkey hex"},
		&cli.StringFlag{Name: "token-account", Usage: "token account pubkey hex"},
	}
}

type keygenOutput struct {
	SecretKey     string `json:"secretKey"`
	ElGamalPubkey string `json:"elgamalPubkey"`
}

func keygen(c *cli.Context) error {
	sk, err := elgamal.GenerateKey(nil)
	if err != nil {
		return err
	}
	b := sk.Bytes()
	return writeJSON(c.App.Writer, keygenOutput{
		SecretKey:     "0x" + hex.EncodeToString(b[:]),
		ElGamalPubkey: sk.PublicKey().String(),
	})
}

func pubkey(c *cli.Context) error {
	keys, err := loadKeys(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, keys.ElGamalPubkey().String())
	return err
}

func encrypt(c *cli.Context) error {
	recipient, err := parseElGamalPubkey(c.String("recipient"))
	if err != nil {
		return fmt.Errorf("--recipient: %w", err)
	}
	var auditor *confidential.ElGamalPubkey
	if v := strings.TrimSpace(c.String("auditor")); v != "" {
		pk, err := parseElGamalPubkey(v)
		if err != nil {
			return fmt.Errorf("--auditor: %w", err)
		}
		auditor = &pk
	}
	tc, err := wallet.EncryptTransfer(recipient, auditor, c.Uint64("amount"))
	if err != nil {
		return err
	}
	in, err := accountInstruction(c, instruction.KindTransferCredit)
	if err != nil {
		return err
	}
	in.Ciphertext = tc.Ciphertext
	in.AuditorCiphertext = tc.AuditorCiphertext
	return writeInstruction(c, in)
}

type balanceOutput struct {
	Address                     string `json:"address"`
	Available                   string `json:"available"`
	Pending                     string `json:"pending"`
	PendingBalanceCredits       string `json:"pendingBalanceCredits"`
	PendingBalanceCreditCounter string `json:"pendingBalanceCreditCounter"`
}

func balance(c *cli.Context) error {
	keys, err := loadKeys(c)
	if err != nil {
		return err
	}
	a, err := loadAccount(c)
	if err != nil {
		return err
	}
	b, err := keys.ReadBalance(&a)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, balanceOutput{
		Address:                     ledger.AddressOf(&a).String(),
		Available:                   strconv.FormatUint(b.Available, 10),
		Pending:                     strconv.FormatUint(b.Pending, 10),
		PendingBalanceCredits:       strconv.FormatUint(b.Credits, 10),
		PendingBalanceCreditCounter: strconv.FormatUint(a.PendingBalanceCreditCounter, 10),
	})
}

func applyInstruction(c *cli.Context) error {
	keys, err := loadKeys(c)
	if err != nil {
		return err
	}
	a, err := loadAccount(c)
	if err != nil {
		return err
	}
	expected, dec, err := keys.PrepareApply(elgamal.Algebra{}, &a)
	if err != nil {
		return err
	}
	in := instruction.New(instruction.KindApplyPendingBalance)
	in.Mint = a.Mint
	in.TokenAccount = a.TokenAccount
	in.ExpectedPendingBalanceCreditCounter = expected
	in.NewDecryptableAvailableBalance = dec
	return writeInstruction(c, in)
}

func loadKeys(c *cli.Context) (*wallet.Keys, error) {
	dl, err := elgamal.NewDiscreteLog(c.Uint64("dlog-baby-steps"), c.Uint64("dlog-giant-steps"))
	if err != nil {
		return nil, err
	}
	p, err := secrets.New(c.Context, c.String("secrets-driver"))
	if err != nil {
		return nil, err
	}
	b, err := secrets.LoadBytes(c.Context, p, c.String("secret-key"), elgamal.SecretKeyLen)
	if err != nil {
		return nil, fmt.Errorf("load secret key: %w", err)
	}
	return wallet.FromSecret(b, dl)
}

func accountInstruction(c *cli.Context, k instruction.Kind) (instruction.Instruction, error) {
	mint, owner, err := parseAccountFlags(c)
	if err != nil {
		return instruction.Instruction{}, err
	}
	in := instruction.New(k)
	in.Mint = mint
	in.TokenAccount = owner
	return in, nil
}

func parseAccountFlags(c *cli.Context) (confidential.Pubkey, confidential.Pubkey, error) {
	mint, err := ledger.ParsePubkey(c.String("mint"))
	if err != nil {
		return confidential.Pubkey{}, confidential.Pubkey{}, fmt.Errorf("--mint: %w", err)
	}
	owner, err := ledger.ParsePubkey(c.String("token-account"))
	if err != nil {
		return confidential.Pubkey{}, confidential.Pubkey{}, fmt.Errorf("--token-account: %w", err)
	}
	return mint, owner, nil
}

func parseElGamalPubkey(s string) (confidential.ElGamalPubkey, error) {
	p, err := ledger.ParsePubkey(s)
	if err != nil {
		return confidential.ElGamalPubkey{}, err
	}
	return confidential.ElGamalPubkey(p), nil
}

func loadAccount(c *cli.Context) (confidential.Account, error) {
	if v := strings.TrimSpace(c.String("layout")); v != "" {
		return decodeLayout(v)
	}
	if strings.TrimSpace(c.String("api-url")) == "" {
		return confidential.Account{}, errors.New("--layout or --api-url is required")
	}
	mint, owner, err := parseAccountFlags(c)
	if err != nil {
		return confidential.Account{}, err
	}
	return fetchAccount(c.Context, c.String("api-url"), mint, owner)
}

func decodeLayout(s string) (confidential.Account, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return confidential.Account{}, fmt.Errorf("decode layout: %w", err)
	}
	return confidential.ParseAccount(b)
}

func writeInstruction(c *cli.Context, in instruction.Instruction) error {
	b, err := instruction.Encode(in)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(b))
	return err
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
