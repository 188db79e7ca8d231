package table

// Clear drops the lazy index as its lifetime ticker does.
func (t *LazyTable) Clear() { t.clear() }
