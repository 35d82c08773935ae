package proxy

import "fmt"

// ProxyNodeID addresses a node of a GraphProxy. It pairs the local slot
// with the repository identity. A ToRetrieve id names a node the proxy knows
// about but has not materialized yet; it has no local slot.
type ProxyNodeID struct {
	memID      int
	storeID    uint64
	toRetrieve bool
}

// ProxyRelationshipID addresses a mirrored relationship.
type ProxyRelationshipID struct {
	memID   int
	storeID uint64
}

// Index is the local slot, or -1 before materialization.
func (id ProxyNodeID) Index() int { return id.memID }

// StoreID is the repository identity.
func (id ProxyNodeID) StoreID() uint64 { return id.storeID }

// ToRetrieve reports whether the node still has to be fetched.
func (id ProxyNodeID) ToRetrieve() bool { return id.toRetrieve }

func (id ProxyNodeID) String() string {
	if id.toRetrieve {
		return fmt.Sprintf("n?#%d", id.storeID)
	}
	return fmt.Sprintf("n%d#%d", id.memID, id.storeID)
}

// Index is the local slot.
func (id ProxyRelationshipID) Index() int { return id.memID }

// StoreID is the repository identity.
func (id ProxyRelationshipID) StoreID() uint64 { return id.storeID }

func (id ProxyRelationshipID) String() string {
	return fmt.Sprintf("e%d#%d", id.memID, id.storeID)
}

// unretrieved builds the placeholder id of a known but unfetched node.
func unretrieved(storeID uint64) ProxyNodeID {
	return ProxyNodeID{memID: -1, storeID: storeID, toRetrieve: true}
}
