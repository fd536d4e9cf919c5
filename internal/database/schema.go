package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(128) PRIMARY KEY,
    email VARCHAR(255) NOT NULL,
    name VARCHAR(255),
    credits INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CHECK (credits >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS leads (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    name VARCHAR(255) NOT NULL,
    email VARCHAR(255) NOT NULL,
    company VARCHAR(255),
    created_at TIMESTAMP(3) DEFAULT CURRENT_TIMESTAMP(3),
    INDEX idx_leads_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS prompt_templates (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    template_key VARCHAR(64) NOT NULL,
    version INT NOT NULL,
    label VARCHAR(255) NOT NULL,
    body TEXT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_key_version (template_key, version)
)`,
	`CREATE TABLE IF NOT EXISTS prompt_runs (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    lead_id CHAR(36),
    template_id BIGINT NOT NULL,
    template_key VARCHAR(64) NOT NULL,
    template_version INT NOT NULL,
    language VARCHAR(64),
    formality VARCHAR(64),
    variables JSON NOT NULL,
    final_prompt TEXT NOT NULL,
    model VARCHAR(64) NOT NULL,
    token_count INT NOT NULL,
    subject VARCHAR(255) NOT NULL,
    body TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at TIMESTAMP(3) DEFAULT CURRENT_TIMESTAMP(3),
    INDEX idx_runs_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS credit_purchases (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    credits INT NOT NULL,
    provider_ref VARCHAR(255),
    created_at TIMESTAMP(3) DEFAULT CURRENT_TIMESTAMP(3),
    UNIQUE KEY uniq_provider_ref (provider_ref),
    INDEX idx_purchases_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS limiter_requests (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    requested_at TIMESTAMP(3) NOT NULL,
    INDEX idx_limiter_user_time (user_id, requested_at)
)`,
	`CREATE TABLE IF NOT EXISTS limiter_jobs (
    user_id VARCHAR(128) PRIMARY KEY,
    active INT NOT NULL DEFAULT 0
)`,
}
