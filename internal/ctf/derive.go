// Package ctf derives Polymarket's CTF (Conditional Tokens Framework)
// position/token IDs from a market's condition ID. The derivation is the
// same hash-to-curve-then-position-id scheme the Gamma API uses internally
// to compute the clobTokenIds it publishes; computing it locally lets the
// indexer cross-check metadata it receives from Gamma and derive IDs for
// markets Gamma hasn't (yet) surfaced.
package ctf

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// fieldPrime is the alt-bn128 (BN254) base field prime. It is ≡ 3 mod 4,
// which lets a square root be computed directly via modular
// exponentiation instead of a general Tonelli-Shanks search.
var fieldPrime, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088696311157297823662689037894645226208583", 10)

// sqrtExponent is (P+1)/4, the exponent used to extract a modular square
// root on a field where P ≡ 3 mod 4.
var sqrtExponent = new(big.Int).Div(new(big.Int).Add(fieldPrime, big.NewInt(1)), big.NewInt(4))

// oddFlag marks bit 254 of a collection ID, encoding the parity of the
// curve point's y-coordinate alongside its x-coordinate.
var oddFlag = new(big.Int).Lsh(big.NewInt(1), 254)

// curveB is the alt-bn128 short Weierstrass curve coefficient: y² = x³ + b.
var curveB = big.NewInt(3)

var bytes32Type, uint256Type abi.Type

func init() {
	var err error
	bytes32Type, err = abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err = abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
}

// TokenIDs is the result of deriving a market's two outcome token IDs.
type TokenIDs struct {
	YesTokenID      string
	NoTokenID       string
	CollateralToken string
}

// Derive computes the YES (outcome index 1) and NO (outcome index 2) token
// IDs for a binary market identified by conditionID. collateralToken
// should be the wrapped collateral address when isNegRisk is true, and the
// USDC.e address otherwise — callers decide which, Derive only consumes it.
func Derive(conditionID [32]byte, collateralToken common.Address) (TokenIDs, error) {
	yes, err := positionID(conditionID, 1, collateralToken)
	if err != nil {
		return TokenIDs{}, fmt.Errorf("derive yes token id: %w", err)
	}
	no, err := positionID(conditionID, 2, collateralToken)
	if err != nil {
		return TokenIDs{}, fmt.Errorf("derive no token id: %w", err)
	}
	return TokenIDs{
		YesTokenID:      yes.String(),
		NoTokenID:       no.String(),
		CollateralToken: collateralToken.Hex(),
	}, nil
}

// positionID implements positionId(i) = uint(keccak256(collateral ||
// collectionId(i))) for a single outcome index.
func positionID(conditionID [32]byte, outcomeIndex int64, collateralToken common.Address) (*big.Int, error) {
	collectionID, err := collectionID(conditionID, outcomeIndex)
	if err != nil {
		return nil, err
	}

	collectionBytes := make([]byte, 32)
	collectionID.FillBytes(collectionBytes)

	preimage := append(append([]byte{}, collateralToken.Bytes()...), collectionBytes...)
	return new(big.Int).SetBytes(crypto.Keccak256(preimage)), nil
}

// collectionID implements the hash-to-curve step: it encodes (conditionId,
// outcomeIndex), hashes it, and steps x upward by one (at least once)
// until x³+3 is a quadratic residue mod P, then folds the hash's top-bit
// parity flag into bit 254 of x.
func collectionID(conditionID [32]byte, outcomeIndex int64) (*big.Int, error) {
	encoded, err := abi.Arguments{{Type: bytes32Type}, {Type: uint256Type}}.Pack(conditionID, big.NewInt(outcomeIndex))
	if err != nil {
		return nil, fmt.Errorf("abi encode: %w", err)
	}
	h := crypto.Keccak256(encoded)

	odd := h[0] >= 0x80
	x := new(big.Int).Mod(new(big.Int).SetBytes(h), fieldPrime)

	for {
		x.Add(x, big.NewInt(1))
		x.Mod(x, fieldPrime)
		if hasSquareRoot(x) {
			break
		}
	}

	if odd {
		x.Xor(x, oddFlag)
	}
	return x, nil
}

// hasSquareRoot reports whether x³+b is a quadratic residue mod P, i.e.
// whether the curve has a point with this x-coordinate.
func hasSquareRoot(x *big.Int) bool {
	rhs := curveRHS(x)
	y := new(big.Int).Exp(rhs, sqrtExponent, fieldPrime)
	ySquared := new(big.Int).Mod(new(big.Int).Mul(y, y), fieldPrime)
	return ySquared.Cmp(rhs) == 0
}

func curveRHS(x *big.Int) *big.Int {
	x3 := new(big.Int).Exp(x, big.NewInt(3), fieldPrime)
	return new(big.Int).Mod(new(big.Int).Add(x3, curveB), fieldPrime)
}
