package db

import "fmt"

// schemaSQL returns the schema initialization SQL. The HNSW index
// dimension is injected from configuration so the index always matches
// the embedding model.
func schemaSQL(dimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- DOCUMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS store_ref ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS filename ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS mime_type ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS file_size ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS language ON document TYPE string DEFAULT "en";
    DEFINE FIELD IF NOT EXISTS page_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS chunk_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS state ON document TYPE string DEFAULT "queued"
        ASSERT $value IN ["queued", "uploading", "indexing", "ready", "failed"];
    DEFINE FIELD IF NOT EXISTS progress ON document TYPE int DEFAULT 0
        ASSERT $value >= 0 AND $value <= 100;
    DEFINE FIELD IF NOT EXISTS retry_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_retries ON document TYPE int DEFAULT 3;
    DEFINE FIELD IF NOT EXISTS operation_ref ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS remote_document_ref ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS last_error ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS queued_at ON document TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON document TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON document TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS deleted ON document TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS deleted_at ON document TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS document_owner ON document FIELDS owner_id;
    DEFINE INDEX IF NOT EXISTS document_store ON document FIELDS store_ref;
    DEFINE INDEX IF NOT EXISTS document_state ON document FIELDS state;

    -- ==========================================================================
    -- CHUNK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON chunk TYPE record<document>;
    DEFINE FIELD IF NOT EXISTS text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS sequence_index ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS page_number ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS language ON chunk TYPE string DEFAULT "en";
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_document ON chunk FIELDS document;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- INGEST_JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document_id ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS owner_id ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS store_ref ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS payload_ref ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS filename ON ingest_job TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS mime_type ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS file_size ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS state ON ingest_job TYPE string DEFAULT "queued"
        ASSERT $value IN ["queued", "uploading", "indexing", "ready", "failed"];
    DEFINE FIELD IF NOT EXISTS progress ON ingest_job TYPE int DEFAULT 0
        ASSERT $value >= 0 AND $value <= 100;
    DEFINE FIELD IF NOT EXISTS retry_count ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_retries ON ingest_job TYPE int DEFAULT 3;
    DEFINE FIELD IF NOT EXISTS operation_ref ON ingest_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS remote_document_ref ON ingest_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS last_error ON ingest_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS queued_at ON ingest_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON ingest_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON ingest_job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS job_document ON ingest_job FIELDS document_id;
    DEFINE INDEX IF NOT EXISTS job_state ON ingest_job FIELDS state;
`, dimension)
}
