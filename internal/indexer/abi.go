package indexer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// orderFilledSignature is the CTF Exchange's OrderFilled event signature.
// Its topic0 is computed once at package init and used to filter logs.
const orderFilledSignature = "OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"

var orderFilledTopic = crypto.Keccak256Hash([]byte(orderFilledSignature))

// orderFilledDataArgs describes the five non-indexed fields carried in the
// log's data section; orderHash/maker/taker are indexed and read straight
// from the topics instead.
var orderFilledDataArgs = mustArguments(
	mustType("uint256"), mustType("uint256"), mustType("uint256"), mustType("uint256"), mustType("uint256"),
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustArguments(types ...abi.Type) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: t}
	}
	return args
}

// orderFilled is one decoded OrderFilled event.
type orderFilled struct {
	OrderHash          common.Hash
	Maker              common.Address
	Taker              common.Address
	MakerAssetID       *big.Int
	TakerAssetID       *big.Int
	MakerAmountFilled  *big.Int
	TakerAmountFilled  *big.Int
	Fee                *big.Int
}

// decodeOrderFilled unpacks a raw log into its typed fields. Returns an
// error if the log isn't shaped like an OrderFilled event.
func decodeOrderFilled(log types.Log) (orderFilled, error) {
	if len(log.Topics) != 4 {
		return orderFilled{}, fmt.Errorf("order filled log: expected 4 topics, got %d", len(log.Topics))
	}

	values, err := orderFilledDataArgs.Unpack(log.Data)
	if err != nil {
		return orderFilled{}, err
	}

	return orderFilled{
		OrderHash:         log.Topics[1],
		Maker:             common.BytesToAddress(log.Topics[2].Bytes()),
		Taker:             common.BytesToAddress(log.Topics[3].Bytes()),
		MakerAssetID:      values[0].(*big.Int),
		TakerAssetID:      values[1].(*big.Int),
		MakerAmountFilled: values[2].(*big.Int),
		TakerAmountFilled: values[3].(*big.Int),
		Fee:               values[4].(*big.Int),
	}, nil
}
