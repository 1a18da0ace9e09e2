package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/healthex/dlt-exchange/chaincode/health-exchange/healthexchange"
)

func main() {
	healthExchangeChaincode, err := contractapi.NewChaincode(&healthexchange.SmartContract{})
	if err != nil {
		log.Panicf("Error creating HealthExchange chaincode: %v", err)
	}

	if err := healthExchangeChaincode.Start(); err != nil {
		log.Panicf("Error starting HealthExchange chaincode: %v", err)
	}
}
