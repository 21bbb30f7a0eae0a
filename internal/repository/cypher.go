package repository

import "github.com/vanshika/churngraph/internal/graph"

var schemaCypher = []string{
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.` + graph.UserKey + ` IS UNIQUE`,
	`CREATE CONSTRAINT card_id IF NOT EXISTS FOR (c:Card) REQUIRE c.cardId IS UNIQUE`,
	`CREATE CONSTRAINT merchant_id IF NOT EXISTS FOR (m:Merchant) REQUIRE m.merchantId IS UNIQUE`,
	`CREATE CONSTRAINT category_code IF NOT EXISTS FOR (c:Category) REQUIRE c.code IS UNIQUE`,
	`CREATE CONSTRAINT transaction_id IF NOT EXISTS FOR (t:Transaction) REQUIRE t.transactionId IS UNIQUE`,
}

const upsertCategoriesCypher = `
UNWIND $rows AS row
MERGE (c:Category {code: row.code})
SET c.description = row.description
`

const upsertUsersCypher = `
UNWIND $rows AS row
MERGE (u:User {` + graph.UserKey + `: row.id})
SET u += row.props
`

// A card has one owner: an OWNS edge from any other user is removed.
const upsertCardsCypher = `
UNWIND $rows AS row
MATCH (u:User {` + graph.UserKey + `: row.userId})
MERGE (c:Card {cardId: row.id})
SET c += row.props
WITH u, c
OPTIONAL MATCH (prev:User)-[old:OWNS]->(c)
WHERE prev <> u
DELETE old
WITH DISTINCT u, c
MERGE (u)-[:OWNS]->(c)
`

// A merchant has at most one category: an IN_CATEGORY edge to any other code
// is removed.
const upsertMerchantsCypher = `
UNWIND $rows AS row
MERGE (m:Merchant {merchantId: row.id})
SET m += row.props
WITH m, row
OPTIONAL MATCH (m)-[old:IN_CATEGORY]->(prev:Category)
WHERE prev.code <> row.categoryCode
DELETE old
WITH DISTINCT m, row
OPTIONAL MATCH (c:Category {code: row.categoryCode})
FOREACH (_ IN CASE WHEN c IS NULL THEN [] ELSE [1] END |
	MERGE (m)-[:IN_CATEGORY]->(c)
)
`

// Transactions are immutable: properties are only written on creation.
const upsertTransactionsCypher = `
UNWIND $rows AS row
MATCH (c:Card {cardId: row.cardId})
MATCH (m:Merchant {merchantId: row.merchantId})
MERGE (t:Transaction {transactionId: row.id})
ON CREATE SET t += row.props
MERGE (c)-[:PERFORMED]->(t)
MERGE (t)-[:AT]->(m)
`

const recomputeInteractionsCypher = `
MATCH (u:User)-[:OWNS]->(:Card)-[:PERFORMED]->(t:Transaction)-[:AT]->(m:Merchant)
WITH u, m, count(t) AS weight, max(t.timestamp) AS lastSeen
MERGE (u)-[r:INTERACTS_WITH]->(m)
SET r.weight = weight,
    r.lastSeen = lastSeen,
    r.version = $version
RETURN count(r) AS edges
`

const deleteStaleInteractionsCypher = `
MATCH (:User)-[r:INTERACTS_WITH]->(:Merchant)
WHERE r.version IS NULL OR r.version <> $version
DELETE r
RETURN count(r) AS removed
`

const writeLabelsCypher = `
UNWIND $rows AS row
MATCH (u:User {` + graph.UserKey + `: row.id})
SET u.churned = row.churned,
    u.lastActivity = row.lastActivity,
    u.referenceDate = $referenceDate
`

const readInteractionsCypher = `
MATCH (u:User)-[r:INTERACTS_WITH]->(m:Merchant)
WHERE $version = '' OR r.version = $version
RETURN u.` + graph.UserKey + ` AS userId,
       m.merchantId AS merchantId,
       r.weight AS weight,
       r.lastSeen AS lastSeen
ORDER BY userId, merchantId
`
