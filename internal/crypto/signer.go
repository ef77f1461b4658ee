package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Domain name and version consumers use to verify answer attestations.
const (
	DomainName    = "CpmOracle"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// OracleAnswer(string symbol,uint256 answer,uint256 blockNumber,uint256 timestamp)
	oracleAnswerTypeHash = ethcrypto.Keccak256(
		[]byte("OracleAnswer(string symbol,uint256 answer,uint256 blockNumber,uint256 timestamp)"),
	)
)

// Signer produces EIP-712 attestations over computed answers so downstream
// consumers can check an answer came from this oracle unmodified.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain ID bound into the signing domain.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(DomainName, DomainVersion, chainID),
	}, nil
}

// Address returns the address answers are signed by.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAnswer returns the hex-encoded 65-byte signature (v in {27,28}) over
// the answer's symbol, value, block and computation time.
func (s *Signer) SignAnswer(a domain.Answer) (string, error) {
	sig, err := ethcrypto.Sign(s.digest(a), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced sig over a.
func (s *Signer) RecoverSigner(a domain.Answer, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(s.digest(a), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func (s *Signer) digest(a domain.Answer) []byte {
	block := uint256.NewInt(a.BlockNumber).Bytes32()
	ts := uint256.NewInt(uint64(a.ComputedAt.Unix())).Bytes32()
	value := a.Value.Bytes32()

	structHash := ethcrypto.Keccak256(
		oracleAnswerTypeHash,
		ethcrypto.Keccak256([]byte(a.Symbol)),
		value[:],
		block[:],
		ts[:],
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash)
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(name, version string, chainID int) []byte {
	id := uint256.NewInt(uint64(chainID)).Bytes32()
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		id[:],
	)
}
