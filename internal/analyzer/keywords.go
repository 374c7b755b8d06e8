package analyzer

// financeKeywords drive the is-investment classification: a message with two
// or more keyword hits (word-bounded, case-insensitive) counts as
// investment-related even without a cashtag.
var financeKeywords = []string{
	"price", "market", "cap", "liquidity", "tvl", "apr", "apy", "yield",
	"mainnet", "testnet", "tge", "cex", "dex", "emission", "airdrop",
	"token", "coin", "crypto", "blockchain", "defi", "trading", "exchange",
	"volume", "pump", "dump", "moon", "bull", "bear", "hodl", "fud",
	"ath", "atl", "mcap", "fdv", "roi", "pnl", "leverage", "margin",
	"staking", "farming", "mining", "validator", "node", "consensus",
	"fork", "upgrade", "governance", "dao", "proposal", "vote",
	"bridge", "cross-chain", "layer", "scaling", "gas", "fee",
	"wallet", "custody", "keys", "seed", "phrase", "security",
	"audit", "exploit", "hack", "rug", "scam", "ponzi",
	"ico", "ido", "ipo", "listing", "delisting", "burn", "mint",
	"supply", "circulation", "inflation", "deflation", "halving",
}

// tokenAliases maps canonical tickers to full-name mentions.
var tokenAliases = map[string][]string{
	"BTC":   {"BITCOIN", "₿"},
	"ETH":   {"ETHEREUM", "ETHER"},
	"BNB":   {"BINANCE"},
	"ADA":   {"CARDANO"},
	"SOL":   {"SOLANA"},
	"MATIC": {"POLYGON"},
	"AVAX":  {"AVALANCHE"},
	"DOT":   {"POLKADOT"},
	"LINK":  {"CHAINLINK"},
	"UNI":   {"UNISWAP"},
}

// monetarySuffixes are cashtag matches that are dollar amounts, not tickers.
var monetarySuffixes = map[string]struct{}{
	"K": {}, "M": {}, "B": {}, "T": {}, "MIL": {}, "BIL": {}, "TRIL": {},
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"day": true, "get": true, "has": true, "him": true, "his": true,
	"how": true, "its": true, "may": true, "new": true, "now": true,
	"old": true, "see": true, "two": true, "who": true, "boy": true,
	"did": true, "man": true, "way": true, "too": true, "any": true,
	"few": true, "let": true, "put": true, "say": true, "she": true,
	"try": true, "use": true,
}
