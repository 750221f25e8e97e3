// Package topic maps a logical subscription (a channel prefix plus argument
// tokens such as symbols) to its canonical subscription id and to the wire
// topics the venue routes data on.
//
// Ids sort their arguments so that {A,B} and {B,A} under one prefix collide:
//
//	/market/ticker@@BTC-USDT,ETH-USDT
//
// Wire topics keep the caller's argument order:
//
//	/market/ticker:BTC-USDT
//	/market/ticker:ETH-USDT
package topic
