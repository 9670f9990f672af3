/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/claimset/sdjwt-go/doc/jose"
	afgjwt "github.com/claimset/sdjwt-go/jwt"
	"github.com/claimset/sdjwt-go/sdjwt/common"
	"github.com/claimset/sdjwt-go/sdjwt/holder"
	"github.com/claimset/sdjwt-go/sdjwt/issuer"
	"github.com/claimset/sdjwt-go/sdjwt/verifier"
)

const (
	settingsFileName      = "settings.yml"
	specificationFileName = "specification.yml"

	artifactFileMode = 0o600
)

// settings holds the shared parameters for all test cases.
type settings struct {
	Identifiers struct {
		Issuer   string `yaml:"issuer"`
		Verifier string `yaml:"verifier"`
	} `yaml:"identifiers"`

	KeySettings struct {
		IssuerKeySeed string `yaml:"issuer_key_seed"`
		HolderKeySeed string `yaml:"holder_key_seed"`
	} `yaml:"key_settings"`

	IssuedAt           int64  `yaml:"iat"`
	Expiry             int64  `yaml:"exp"`
	HolderBindingNonce string `yaml:"holder_binding_nonce"`
}

// specification describes one test case.
type specification struct {
	UserClaims            map[string]interface{} `yaml:"user_claims"`
	HolderDisclosedClaims []string               `yaml:"holder_disclosed_claims"`
	HolderBinding         bool                   `yaml:"holder_binding"`
	AddDecoyClaims        bool                   `yaml:"add_decoy_claims"`
}

// demoKeys are deterministic signing keys derived from the settings seeds,
// so regenerating test case data is reproducible.
type demoKeys struct {
	issuerSigner   jose.Signer
	issuerVerifier jose.SignatureVerifier
	holderSigner   jose.Signer
	holderPublic   *gojose.JSONWebKey
}

func newGenerateCmd(logger *slog.Logger) *cobra.Command {
	var baseDir string

	cmd := &cobra.Command{
		Use:   "generate [directories...]",
		Short: "Regenerate test case artifacts from YAML specifications",
		Long: "Runs the issue, present and verify cycle for each test case directory " +
			"and writes the intermediate artifacts next to its specification.yml. " +
			"Without arguments, every subdirectory containing a specification.yml is processed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(logger, baseDir, args)
		},
	}

	cmd.Flags().StringVar(&baseDir, "dir", ".", "base directory holding settings.yml and the test case directories")

	return cmd
}

func runGenerate(logger *slog.Logger, baseDir string, dirs []string) error {
	cfg, err := loadSettings(filepath.Join(baseDir, settingsFileName))
	if err != nil {
		return err
	}

	keys, err := deriveDemoKeys(cfg)
	if err != nil {
		return err
	}

	if len(dirs) == 0 {
		dirs, err = discoverTestCaseDirs(baseDir)
		if err != nil {
			return err
		}
	}

	for _, dir := range dirs {
		caseDir := filepath.Join(baseDir, dir)

		logger.Info("generating test case data", "dir", caseDir)

		if err := generateTestCase(caseDir, cfg, keys); err != nil {
			return fmt.Errorf("test case '%s': %w", dir, err)
		}
	}

	return nil
}

func loadSettings(path string) (*settings, error) {
	settingsBytes, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg settings

	if err := yaml.Unmarshal(settingsBytes, &cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	return &cfg, nil
}

func deriveDemoKeys(cfg *settings) (*demoKeys, error) {
	issuerSeed := sha256.Sum256([]byte(cfg.KeySettings.IssuerKeySeed))
	holderSeed := sha256.Sum256([]byte(cfg.KeySettings.HolderKeySeed))

	issuerPrivKey := ed25519.NewKeyFromSeed(issuerSeed[:])
	holderPrivKey := ed25519.NewKeyFromSeed(holderSeed[:])

	issuerVerifier, err := afgjwt.NewEd25519Verifier(issuerPrivKey.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("derive issuer verifier: %w", err)
	}

	return &demoKeys{
		issuerSigner:   afgjwt.NewEd25519Signer(issuerPrivKey),
		issuerVerifier: issuerVerifier,
		holderSigner:   afgjwt.NewEd25519Signer(holderPrivKey),
		holderPublic:   &gojose.JSONWebKey{Key: holderPrivKey.Public()},
	}, nil
}

func discoverTestCaseDirs(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var dirs []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		specPath := filepath.Join(baseDir, entry.Name(), specificationFileName)
		if _, err := os.Stat(specPath); err == nil {
			dirs = append(dirs, entry.Name())
		}
	}

	if len(dirs) == 0 {
		return nil, fmt.Errorf("no directories with %s found under '%s'", specificationFileName, baseDir)
	}

	return dirs, nil
}

func generateTestCase(caseDir string, cfg *settings, keys *demoKeys) error {
	specBytes, err := os.ReadFile(filepath.Join(caseDir, specificationFileName)) // nolint:gosec
	if err != nil {
		return fmt.Errorf("read specification: %w", err)
	}

	var spec specification

	if err := yaml.Unmarshal(specBytes, &spec); err != nil {
		return fmt.Errorf("parse specification: %w", err)
	}

	issuerOpts := []issuer.NewOpt{
		issuer.WithJTI(uuid.NewString()),
		issuer.WithIssuedAt(jwt.NewNumericDate(time.Unix(cfg.IssuedAt, 0))),
		issuer.WithExpiry(jwt.NewNumericDate(time.Unix(cfg.Expiry, 0))),
		issuer.WithDecoyDigests(spec.AddDecoyClaims),
	}

	if spec.HolderBinding {
		issuerOpts = append(issuerOpts, issuer.WithHolderPublicKey(keys.holderPublic))
	}

	token, err := issuer.New(cfg.Identifiers.Issuer, spec.UserClaims, nil, keys.issuerSigner, issuerOpts...)
	if err != nil {
		return fmt.Errorf("issue SD-JWT: %w", err)
	}

	combinedIssuance, err := token.Serialize(false)
	if err != nil {
		return fmt.Errorf("serialize combined issuance: %w", err)
	}

	holderClaims, err := holder.Parse(combinedIssuance, holder.WithSignatureVerifier(keys.issuerVerifier))
	if err != nil {
		return fmt.Errorf("holder parse: %w", err)
	}

	disclosures, err := holder.SelectDisclosures(holderClaims, spec.HolderDisclosedClaims)
	if err != nil {
		return fmt.Errorf("select disclosures: %w", err)
	}

	var (
		presentOpts  []holder.Option
		hbJWTPayload *holder.BindingPayload
		verifyOpts   []verifier.ParseOpt
	)

	verifyOpts = append(verifyOpts, verifier.WithIssuerKeyResolver(issuerKeyResolver(cfg, keys)))

	if spec.HolderBinding {
		hbJWTPayload = &holder.BindingPayload{
			Nonce:    cfg.HolderBindingNonce,
			Audience: cfg.Identifiers.Verifier,
			IssuedAt: jwt.NewNumericDate(time.Unix(cfg.IssuedAt, 0)),
		}

		presentOpts = append(presentOpts, holder.WithHolderVerification(&holder.BindingInfo{
			Payload: *hbJWTPayload,
			Signer:  keys.holderSigner,
		}))

		verifyOpts = append(verifyOpts,
			verifier.WithHolderVerificationRequired(true),
			verifier.WithExpectedNonceForHolderVerification(cfg.HolderBindingNonce),
			verifier.WithExpectedAudienceForHolderVerification(cfg.Identifiers.Verifier))
	}

	combinedPresentation, err := holder.CreatePresentation(combinedIssuance, disclosures, presentOpts...)
	if err != nil {
		return fmt.Errorf("create presentation: %w", err)
	}

	verifiedContents, err := verifier.Parse(combinedPresentation, verifyOpts...)
	if err != nil {
		return fmt.Errorf("verify presentation: %w", err)
	}

	sdJWTSerialized, err := token.SignedJWT.Serialize(false)
	if err != nil {
		return fmt.Errorf("serialize SD-JWT: %w", err)
	}

	artifacts := map[string]interface{}{
		"user_claims.json":          spec.UserClaims,
		"sd_jwt_payload.json":       token.SignedJWT.Payload,
		"sd_jwt_serialized.txt":     sdJWTSerialized,
		"combined_issuance.txt":     combinedIssuance,
		"combined_presentation.txt": combinedPresentation,
		"verified_contents.json":    verifiedContents,
	}

	if spec.HolderBinding {
		cfp := common.ParseCombinedFormatForPresentation(combinedPresentation)

		artifacts["hb_jwt_payload.json"] = hbJWTPayload
		artifacts["hb_jwt_serialized.txt"] = cfp.HolderVerification
	}

	if spec.AddDecoyClaims {
		artifacts["decoy_digests.json"] = token.DecoyDigests
	}

	return writeArtifacts(caseDir, artifacts)
}

// issuerKeyResolver mirrors the verifier-side key lookup: only the configured
// issuer identifier resolves. Demo keys only, not for production use.
func issuerKeyResolver(cfg *settings, keys *demoKeys) func(string) (jose.SignatureVerifier, error) {
	return func(issuerID string) (jose.SignatureVerifier, error) {
		if issuerID != cfg.Identifiers.Issuer {
			return nil, fmt.Errorf("unknown issuer: %s", issuerID)
		}

		return keys.issuerVerifier, nil
	}
}

func writeArtifacts(caseDir string, artifacts map[string]interface{}) error {
	for name, data := range artifacts {
		var contents []byte

		switch typed := data.(type) {
		case string:
			contents = []byte(typed)
		default:
			marshalled, err := json.MarshalIndent(typed, "", "    ")
			if err != nil {
				return fmt.Errorf("marshal artifact '%s': %w", name, err)
			}

			contents = marshalled
		}

		if err := os.WriteFile(filepath.Join(caseDir, name), contents, artifactFileMode); err != nil {
			return fmt.Errorf("write artifact '%s': %w", name, err)
		}
	}

	return nil
}
