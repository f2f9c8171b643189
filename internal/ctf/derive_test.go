package ctf

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var usdcE = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	var conditionID [32]byte // all-zero, isNegRisk=false per the fixture

	first, err := Derive(conditionID, usdcE)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	second, err := Derive(conditionID, usdcE)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if first != second {
		t.Fatalf("Derive(c, f) not referentially transparent: %+v != %+v", first, second)
	}
	if first.CollateralToken != usdcE.Hex() {
		t.Fatalf("collateralToken = %s, want %s", first.CollateralToken, usdcE.Hex())
	}
	if first.YesTokenID == "" || first.NoTokenID == "" {
		t.Fatalf("expected non-empty token ids, got %+v", first)
	}
	if first.YesTokenID == first.NoTokenID {
		t.Fatalf("yes and no token ids must differ, both = %s", first.YesTokenID)
	}
}

func TestDeriveDiffersByConditionID(t *testing.T) {
	t.Parallel()

	var a, b [32]byte
	b[31] = 1

	derivedA, err := Derive(a, usdcE)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	derivedB, err := Derive(b, usdcE)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if derivedA.YesTokenID == derivedB.YesTokenID {
		t.Fatalf("distinct condition ids produced the same yes token id")
	}
}

func TestDeriveDiffersByCollateral(t *testing.T) {
	t.Parallel()

	var conditionID [32]byte
	wrapped := common.HexToAddress("0x9c4e1703476e875070ee25b56a58b008cfb8fa78")

	viaUSDC, err := Derive(conditionID, usdcE)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	viaWrapped, err := Derive(conditionID, wrapped)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if viaUSDC.YesTokenID == viaWrapped.YesTokenID {
		t.Fatalf("distinct collateral tokens produced the same yes token id")
	}
}
